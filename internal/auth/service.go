// Package auth は登録・ログイン・トークン更新・ログアウトのドメインロジックを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minakata/civicgate/internal/fieldcrypt"
	"github.com/minakata/civicgate/internal/metrics"
	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/password"
	"github.com/minakata/civicgate/internal/ratelimit"
	"github.com/minakata/civicgate/internal/repository"
	"github.com/minakata/civicgate/internal/token"
)

// Profile は認可された本人向けに復号した連絡先情報。
type Profile struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Role      model.Role
	CreatedAt time.Time
}

// Service は認証フローのサービス層。
// 登録・ログイン・トークン更新・ログアウト・パスワード変更のビジネスロジックを提供する。
// 連絡先フィールドの暗号化は最初の書き込みより前に行い、平文はリポジトリ層へ渡さない。
type Service struct {
	identities      repository.IdentityRepository
	crypt           *fieldcrypt.Service
	policy          *password.Policy
	tokens          *token.Service
	limiter         *ratelimit.LoginLimiter
	collector       metrics.MetricsCollector
	logger          *slog.Logger
	lockoutDuration time.Duration
	now             func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	identities repository.IdentityRepository,
	crypt *fieldcrypt.Service,
	policy *password.Policy,
	tokens *token.Service,
	limiter *ratelimit.LoginLimiter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		identities:      identities,
		crypt:           crypt,
		policy:          policy,
		tokens:          tokens,
		limiter:         limiter,
		collector:       collector,
		logger:          logger,
		lockoutDuration: lockoutDuration,
		now:             time.Now,
	}
}

// Register は新規アカウントを登録し、発行したアカウントIDを返す。
// パスワードポリシー違反は全項目を列挙して返す。
func (s *Service) Register(ctx context.Context, name, email, phone, candidate string) (string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return "", model.NewInvalidInputError("nameは必須です")
	}
	if email == "" || !strings.Contains(email, "@") {
		return "", model.NewInvalidInputError("emailの形式が正しくありません")
	}

	if result := s.policy.Evaluate(candidate); !result.OK {
		return "", model.NewPasswordPolicyError(result.Violations)
	}

	passwordHash, err := password.Hash(candidate)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	emailEncrypted, err := s.crypt.EncryptField(email)
	if err != nil {
		return "", fmt.Errorf("メールアドレスの暗号化に失敗しました: %w", err)
	}
	phoneEncrypted := ""
	if phone != "" {
		phoneEncrypted, err = s.crypt.EncryptField(phone)
		if err != nil {
			return "", fmt.Errorf("電話番号の暗号化に失敗しました: %w", err)
		}
	}

	now := s.now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		Name:           name,
		EmailEncrypted: emailEncrypted,
		EmailHash:      fieldcrypt.HashLookupKey(email),
		PhoneEncrypted: phoneEncrypted,
		PasswordHash:   passwordHash,
		Role:           model.RoleCitizen,
		Permissions:    model.DefaultPermissions(model.RoleCitizen),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return "", model.NewEmailInUseError()
		}
		return "", fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}

	return identity.ID, nil
}

// Login はメールアドレスとパスワードで認証し、トークンペアを発行する。
// 失敗理由はメールアドレスの存在有無を漏らさない形で返す。
// カウンタストアが利用できない場合は認証を拒否する（fail-closed）。
func (s *Service) Login(ctx context.Context, email, candidate, sourceIP string) (*token.Pair, error) {
	emailHash := fieldcrypt.HashLookupKey(strings.TrimSpace(email))

	decision, err := s.limiter.Admit(ctx, emailHash, sourceIP)
	if err != nil {
		// 認証経路ではストア障害時も流入させない
		return nil, fmt.Errorf("試行回数の確認に失敗しました: %w", err)
	}
	if !decision.Allowed {
		return nil, model.NewAccountLockedError(int(decision.RetryAfter.Seconds()))
	}

	identity, err := s.identities.FindByEmailHash(ctx, emailHash)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if identity == nil {
		// 未登録のメールアドレスでも失敗として数え、応答を登録済みの場合と揃える
		if _, _, err := s.limiter.RecordFailure(ctx, emailHash); err != nil {
			return nil, fmt.Errorf("試行回数の記録に失敗しました: %w", err)
		}
		if s.collector != nil {
			s.collector.RecordLoginFailure()
		}
		return nil, model.NewInvalidCredentialsError()
	}

	now := s.now()
	if identity.LockedOut(now) {
		return nil, model.NewAccountLockedError(int(identity.LockoutUntil.Sub(now).Seconds()))
	}

	ok, err := password.Verify(candidate, identity.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("パスワードの照合に失敗しました: %w", err)
	}
	if !ok {
		return nil, s.recordFailedLogin(ctx, identity, emailHash)
	}

	// 認証成功: 失敗カウンタとロックアウトを解除してから発行する
	if err := s.limiter.Reset(ctx, emailHash); err != nil {
		return nil, fmt.Errorf("試行回数のリセットに失敗しました: %w", err)
	}
	if err := s.identities.ResetLoginFailures(ctx, identity.ID); err != nil {
		return nil, fmt.Errorf("失敗回数のリセットに失敗しました: %w", err)
	}

	pair, err := s.tokens.Issue(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}
	return pair, nil
}

// recordFailedLogin はパスワード不一致を記録し、呼び出し元へ返すエラーを組み立てる。
// 閾値到達時は永続側のロックアウトも設定する。
func (s *Service) recordFailedLogin(ctx context.Context, identity *model.Identity, emailHash string) error {
	if s.collector != nil {
		s.collector.RecordLoginFailure()
	}
	if _, err := s.identities.RecordLoginFailure(ctx, identity.ID); err != nil {
		return fmt.Errorf("失敗回数の記録に失敗しました: %w", err)
	}

	locked, retryAfter, err := s.limiter.RecordFailure(ctx, emailHash)
	if err != nil {
		return fmt.Errorf("試行回数の記録に失敗しました: %w", err)
	}
	if !locked {
		return model.NewInvalidCredentialsError()
	}

	// Redis側のロックに合わせてDBのロックアウト時刻も永続化する
	until := s.now().Add(s.lockoutDuration)
	if err := s.identities.SetLockout(ctx, identity.ID, until); err != nil {
		return fmt.Errorf("ロックアウトの設定に失敗しました: %w", err)
	}
	if s.collector != nil {
		s.collector.RecordLockout()
	}
	s.logger.Warn("アカウントをロックアウトしました",
		slog.String("identity_id", identity.ID),
		slog.Time("until", until),
	)
	return model.NewAccountLockedError(int(retryAfter.Seconds()))
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンペアを返す。
func (s *Service) Refresh(ctx context.Context, refreshID string) (*token.Pair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshID)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenRevoked):
			return nil, model.NewTokenError(model.ErrCodeTokenRevoked)
		case errors.Is(err, token.ErrTokenExpired):
			return nil, model.NewTokenError(model.ErrCodeTokenExpired)
		case errors.Is(err, token.ErrIdentityInactive):
			return nil, model.NewAccountLockedError(int(s.lockoutDuration.Seconds()))
		default:
			return nil, fmt.Errorf("トークンの更新に失敗しました: %w", err)
		}
	}
	return pair, nil
}

// Logout はリフレッシュトークンを失効させる。冪等で、常に成功を返す。
func (s *Service) Logout(ctx context.Context, refreshID string) error {
	if err := s.tokens.Revoke(ctx, refreshID); err != nil {
		return fmt.Errorf("トークンの失効に失敗しました: %w", err)
	}
	return nil
}

// ChangePassword はパスワードを変更し、既存の全リフレッシュトークンを失効させる。
func (s *Service) ChangePassword(ctx context.Context, identityID, current, next string) error {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.NewInvalidCredentialsError()
	}

	ok, err := password.Verify(current, identity.PasswordHash)
	if err != nil {
		return fmt.Errorf("パスワードの照合に失敗しました: %w", err)
	}
	if !ok {
		return model.NewInvalidCredentialsError()
	}

	if result := s.policy.Evaluate(next); !result.OK {
		return model.NewPasswordPolicyError(result.Violations)
	}

	passwordHash, err := password.Hash(next)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.identities.UpdatePasswordHash(ctx, identityID, passwordHash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	// 旧パスワードで取得済みのリフレッシュトークンを無効化する
	if err := s.tokens.RevokeAll(ctx, identityID); err != nil {
		return fmt.Errorf("既存トークンの失効に失敗しました: %w", err)
	}
	return nil
}

// GetProfile は本人向けに連絡先フィールドを復号して返す。
// 復号はこの認可された読み出し時点でのみ行う。
func (s *Service) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	email, err := s.crypt.DecryptField(identity.EmailEncrypted)
	if err != nil {
		return nil, fmt.Errorf("メールアドレスの復号に失敗しました: %w", err)
	}
	phone := ""
	if identity.PhoneEncrypted != "" {
		phone, err = s.crypt.DecryptField(identity.PhoneEncrypted)
		if err != nil {
			return nil, fmt.Errorf("電話番号の復号に失敗しました: %w", err)
		}
	}

	return &Profile{
		ID:        identity.ID,
		Name:      identity.Name,
		Email:     email,
		Phone:     phone,
		Role:      identity.Role,
		CreatedAt: identity.CreatedAt,
	}, nil
}
