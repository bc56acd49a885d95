package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/minakata/civicgate/internal/model"
)

// PostgresRefreshTokenRepo はPostgreSQLを使用したリフレッシュトークン台帳。
type PostgresRefreshTokenRepo struct {
	db *sql.DB
}

// NewPostgresRefreshTokenRepo はPostgresRefreshTokenRepoを生成する。
func NewPostgresRefreshTokenRepo(db *sql.DB) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: db}
}

// Insert はリフレッシュトークンを登録する。
func (r *PostgresRefreshTokenRepo) Insert(ctx context.Context, token *model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, identity_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.ID, token.IdentityID, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// Find は指定IDのトークンを取得する。存在しない場合はErrRefreshTokenNotFoundを返す。
func (r *PostgresRefreshTokenRepo) Find(ctx context.Context, id string) (*model.RefreshToken, error) {
	token := &model.RefreshToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, identity_id, expires_at, created_at FROM refresh_tokens WHERE id = $1`,
		id,
	).Scan(&token.ID, &token.IdentityID, &token.ExpiresAt, &token.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return token, nil
}

// Rotate は旧トークンの削除と新トークンの登録を同一トランザクションで行う。
// 旧トークンが既に存在しない場合はErrRefreshTokenNotFoundを返し、新トークンは登録しない。
// 同一の旧トークンで並行してローテーションした場合、DELETEに成功するのは1つだけで、
// 残りは失効エラーになる。
func (r *PostgresRefreshTokenRepo) Rotate(ctx context.Context, oldID string, newToken *model.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE id = $1`,
		oldID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRefreshTokenNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, identity_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		newToken.ID, newToken.IdentityID, newToken.ExpiresAt, newToken.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert new refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete は指定IDのトークンを削除する。存在しない場合も成功とする。
func (r *PostgresRefreshTokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteByIdentityID は指定アカウントの全トークンを削除する。
func (r *PostgresRefreshTokenRepo) DeleteByIdentityID(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE identity_id = $1`,
		identityID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete refresh tokens by identity: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのトークンを一括削除し、削除件数を返す。
func (r *PostgresRefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
