package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/minakata/civicgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresIdentityRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `id, name, email_encrypted, email_hash, phone_encrypted,
	 password_hash, role, permissions, failed_attempts, lockout_until, created_at, updated_at`

// FindByEmailHash はメールアドレスの検索キーでアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByEmailHash(ctx context.Context, emailHash string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email_hash = $1`,
		emailHash,
	)
	identity, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email hash: %w", err)
	}
	return identity, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`,
		id,
	)
	identity, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}
	return identity, nil
}

// Create はアカウントを作成する。email_hashが重複する場合はErrDuplicateEmailを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	permissions, err := json.Marshal(identity.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities
		 (id, name, email_encrypted, email_hash, phone_encrypted,
		  password_hash, role, permissions, failed_attempts, lockout_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		identity.ID, identity.Name, identity.EmailEncrypted, identity.EmailHash,
		identity.PhoneEncrypted, identity.PasswordHash, identity.Role, permissions,
		identity.FailedAttempts, identity.LockoutUntil, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// UpdatePasswordHash はパスワードハッシュを更新する。
func (r *PostgresIdentityRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

// RecordLoginFailure はログイン失敗回数をインクリメントし、更新後の回数を返す。
func (r *PostgresIdentityRepo) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE identities
		 SET failed_attempts = failed_attempts + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING failed_attempts`,
		id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}
	return count, nil
}

// ResetLoginFailures は失敗回数をゼロに戻し、ロックアウトを解除する。
func (r *PostgresIdentityRepo) ResetLoginFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities
		 SET failed_attempts = 0, lockout_until = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

// SetLockout はアカウントを指定時刻までロックアウトする。
func (r *PostgresIdentityRepo) SetLockout(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET lockout_until = $2, updated_at = now() WHERE id = $1`,
		id, until,
	)
	if err != nil {
		return fmt.Errorf("failed to set lockout: %w", err)
	}
	return nil
}

// scanIdentity は1行をmodel.Identityに読み取る。
func scanIdentity(row *sql.Row) (*model.Identity, error) {
	identity := &model.Identity{}
	var permissions []byte
	var lockoutUntil sql.NullTime

	err := row.Scan(
		&identity.ID, &identity.Name, &identity.EmailEncrypted, &identity.EmailHash,
		&identity.PhoneEncrypted, &identity.PasswordHash, &identity.Role, &permissions,
		&identity.FailedAttempts, &lockoutUntil, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(permissions, &identity.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	if lockoutUntil.Valid {
		identity.LockoutUntil = &lockoutUntil.Time
	}
	return identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
