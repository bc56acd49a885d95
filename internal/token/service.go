// Package token はアクセストークンの発行・検証とリフレッシュトークンの
// ローテーションを提供する。
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/repository"
)

// 呼び出し元で失敗の種類を判別するためのセンチネルエラー。
var (
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed は構文的に不正なトークンを表す。
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSignatureInvalid は署名検証に失敗したトークンを表す。
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenRevoked は失効済み・ローテーション済みのリフレッシュトークンを表す。
	ErrTokenRevoked = errors.New("token revoked")
	// ErrIdentityInactive はロックアウト中のアカウントへの発行要求を表す。
	ErrIdentityInactive = errors.New("identity inactive")
)

// AccessClaims はアクセストークンに埋め込むクレーム。
// 役割と権限は発行時点のスナップショットで、発行後にアカウント側を変更しても
// トークンの有効期限内は発行時の値のまま検証される。
type AccessClaims struct {
	Role        model.Role          `json:"role"`
	Permissions model.PermissionSet `json:"permissions"`
	jwt.RegisteredClaims
}

// Pair は発行結果のトークンペア。
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Service はトークンの発行・検証・ローテーションを行う。
// 署名アルゴリズムはHS256のみを許可し、トークンのヘッダで指定された
// アルゴリズムには従わない。
type Service struct {
	secret        []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	identities    repository.IdentityRepository
	refreshTokens repository.RefreshTokenRepository
	now           func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	secret []byte,
	issuer string,
	accessTTL, refreshTTL time.Duration,
	identities repository.IdentityRepository,
	refreshTokens repository.RefreshTokenRepository,
) *Service {
	return &Service{
		secret:        secret,
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		identities:    identities,
		refreshTokens: refreshTokens,
		now:           time.Now,
	}
}

// Issue はアカウントに対してトークンペアを新規発行する。
// ロックアウト中のアカウントにはErrIdentityInactiveを返す。
func (s *Service) Issue(ctx context.Context, identity *model.Identity) (*Pair, error) {
	now := s.now()
	if identity.LockedOut(now) {
		return nil, ErrIdentityInactive
	}

	accessToken, err := s.signAccess(identity, now)
	if err != nil {
		return nil, err
	}

	refresh := &model.RefreshToken{
		ID:         uuid.New().String(),
		IdentityID: identity.ID,
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.refreshTokens.Insert(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refresh.ID,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess はアクセストークンを検証し、クレームを返す。
// 署名・発行者・期限に加えてクレームの役割が既知であることを確認する。
// 失敗の種類ごとにErrTokenExpired / ErrTokenMalformed / ErrSignatureInvalidを返す。
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &AccessClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		// パーサオプションに加えてkeyfuncでもアルゴリズムを確認する
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}

	if !parsed.Valid || claims.Subject == "" || !model.ValidRole(claims.Role) {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Rotate はリフレッシュトークンを消費し、新しいトークンペアを発行する。
// 旧トークンは不可逆に失効し、同じIDでの再ローテーションはErrTokenRevokedになる。
// 並行して同じトークンをローテーションした場合、成功するのは1つだけ。
func (s *Service) Rotate(ctx context.Context, refreshID string) (*Pair, error) {
	current, err := s.refreshTokens.Find(ctx, refreshID)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	now := s.now()
	if !now.Before(current.ExpiresAt) {
		// 期限切れの行は掃除してから失敗を返す
		if err := s.refreshTokens.Delete(ctx, refreshID); err != nil {
			return nil, fmt.Errorf("failed to delete expired refresh token: %w", err)
		}
		return nil, ErrTokenExpired
	}

	identity, err := s.identities.FindByID(ctx, current.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		return nil, ErrTokenRevoked
	}
	if identity.LockedOut(now) {
		return nil, ErrIdentityInactive
	}

	accessToken, err := s.signAccess(identity, now)
	if err != nil {
		return nil, err
	}

	next := &model.RefreshToken{
		ID:         uuid.New().String(),
		IdentityID: identity.ID,
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.refreshTokens.Rotate(ctx, refreshID, next); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			// 同一トークンでの並行ローテーションに負けた場合
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: next.ID,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Revoke はリフレッシュトークンを失効させる。既に失効済みの場合も成功とする。
func (s *Service) Revoke(ctx context.Context, refreshID string) error {
	if err := s.refreshTokens.Delete(ctx, refreshID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll は指定アカウントの全リフレッシュトークンを失効させる。
func (s *Service) RevokeAll(ctx context.Context, identityID string) error {
	if err := s.refreshTokens.DeleteByIdentityID(ctx, identityID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// signAccess は発行時点のアカウント情報をスナップショットしたアクセストークンに署名する。
func (s *Service) signAccess(identity *model.Identity, now time.Time) (string, error) {
	claims := AccessClaims{
		Role:        identity.Role,
		Permissions: identity.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.issuer,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
