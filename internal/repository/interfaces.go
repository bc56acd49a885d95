// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/minakata/civicgate/internal/model"
)

// ErrDuplicateEmail は同一メールアドレスのアカウントが既に存在する場合に返す。
var ErrDuplicateEmail = errors.New("repository: email already registered")

// ErrRefreshTokenNotFound はリフレッシュトークンが存在しない場合に返す。
// 既にローテーション済み・失効済みのトークンも同様に扱う。
var ErrRefreshTokenNotFound = errors.New("repository: refresh token not found")

// IdentityRepository は市民アカウントの永続化インターフェース。
type IdentityRepository interface {
	// FindByEmailHash はメールアドレスの検索キーでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByEmailHash(ctx context.Context, emailHash string) (*model.Identity, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// Create はアカウントを作成する。
	// email_hashが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// RecordLoginFailure はログイン失敗回数をインクリメントし、更新後の回数を返す。
	RecordLoginFailure(ctx context.Context, id string) (int, error)

	// ResetLoginFailures は失敗回数をゼロに戻し、ロックアウトを解除する。
	ResetLoginFailures(ctx context.Context, id string) error

	// SetLockout はアカウントを指定時刻までロックアウトする。
	SetLockout(ctx context.Context, id string, until time.Time) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
// 行の存在がトークンの有効性を表す。削除済みのトークンは失効とみなす。
type RefreshTokenRepository interface {
	// Insert はリフレッシュトークンを登録する。
	Insert(ctx context.Context, token *model.RefreshToken) error

	// Find は指定IDのトークンを取得する。
	// 存在しない場合はErrRefreshTokenNotFoundを返す。
	Find(ctx context.Context, id string) (*model.RefreshToken, error)

	// Rotate は旧トークンの削除と新トークンの登録を同一トランザクションで行う。
	// 旧トークンが既に存在しない場合はErrRefreshTokenNotFoundを返し、
	// 新トークンは登録しない。
	Rotate(ctx context.Context, oldID string, newToken *model.RefreshToken) error

	// Delete は指定IDのトークンを削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, id string) error

	// DeleteByIdentityID は指定アカウントの全トークンを削除する。
	DeleteByIdentityID(ctx context.Context, identityID string) error

	// DeleteExpired は期限切れのトークンを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
