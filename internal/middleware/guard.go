// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityIDContextKey はリクエストコンテキストにアカウントIDを格納するためのキー。
var identityIDContextKey = contextKey("identity_id")

// claimsContextKey はリクエストコンテキストにアクセストークンのクレームを格納するためのキー。
var claimsContextKey = contextKey("access_claims")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Serviceの部分集合として定義する。
type TokenVerifier interface {
	VerifyAccess(tokenString string) (*token.AccessClaims, error)
}

// AttackReporter は検証失敗をトークン改ざんイベントとして通報するためのインターフェース。
// attack.Pipelineの部分集合として定義する。
type AttackReporter interface {
	Record(category model.AttackCategory, payload, sourceIP, path string, blocked bool)
}

// NewGuardMiddleware はAuthorizationヘッダーのBearerトークンを検証する
// ミドルウェアを返す。検証に通ったアカウントIDとクレームを
// リクエストコンテキストに注入する。
// 署名不正・構文不正のトークンはトークン改ざんイベントとして通報する。
// reporterがnilの場合は通報を行わない。
func NewGuardMiddleware(verifier TokenVerifier, reporter AttackReporter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. AuthorizationヘッダーからBearerトークンを取り出す
			tokenString, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenMalformed))
				return
			}

			// 2. トークンの有効性を検証
			claims, err := verifier.VerifyAccess(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, token.ErrTokenExpired):
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenExpired))
				case errors.Is(err, token.ErrSignatureInvalid), errors.Is(err, token.ErrTokenMalformed):
					if reporter != nil {
						reporter.Record(model.AttackTokenTampering, tokenString, ClientIP(r), r.URL.Path, true)
					}
					slog.Warn("アクセストークンの検証に失敗しました",
						slog.String("source_ip", ClientIP(r)),
						slog.String("error", err.Error()),
					)
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenMalformed))
				default:
					slog.Error("トークン検証中にエラーが発生しました",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
				}
				return
			}

			// 3. 認証済みアカウントIDとクレームをコンテキストに注入
			ctx := context.WithValue(r.Context(), identityIDContextKey, claims.Subject)
			ctx = context.WithValue(ctx, claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewPermissionMiddleware は認可ミドルウェアを返す。
// アクセストークンのクレームに含まれる権限スナップショットで判定するため、
// 発行後にアカウント側の権限を変更してもトークンの有効期限内は反映されない。
// ガードミドルウェアの後に配置すること。
func NewPermissionMiddleware(domain, action string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ClaimsFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenMalformed))
				return
			}

			if !claims.Permissions.Allows(domain, action) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// IdentityIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// ガードミドルウェアを通過したリクエストでのみ有効。
func IdentityIDFromContext(ctx context.Context) (string, error) {
	identityID, ok := ctx.Value(identityIDContextKey).(string)
	if !ok || identityID == "" {
		return "", fmt.Errorf("identity ID not found in context")
	}
	return identityID, nil
}

// ClaimsFromContext はリクエストコンテキストからアクセストークンのクレームを取得する。
func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*token.AccessClaims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("access claims not found in context")
	}
	return claims, nil
}

// ContextWithIdentity はコンテキストにアカウントIDとクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identityID string, claims *token.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, identityIDContextKey, identityID)
	if claims != nil {
		ctx = context.WithValue(ctx, claimsContextKey, claims)
	}
	return ctx
}
