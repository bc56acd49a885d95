// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/minakata/civicgate/internal/auth"
	"github.com/minakata/civicgate/internal/middleware"
	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/ratelimit"
	"github.com/minakata/civicgate/internal/token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Register は新規アカウントを登録し、発行したアカウントIDを返す。
	Register(ctx context.Context, name, email, phone, candidate string) (string, error)
	// Login は資格情報を検証し、トークンペアを発行する。
	Login(ctx context.Context, email, candidate, sourceIP string) (*token.Pair, error)
	// Refresh はリフレッシュトークンをローテーションし、新しいペアを発行する。
	Refresh(ctx context.Context, refreshID string) (*token.Pair, error)
	// Logout はリフレッシュトークンを失効させる。
	Logout(ctx context.Context, refreshID string) error
	// ChangePassword はパスワードを変更し、既存のリフレッシュトークンをすべて失効させる。
	ChangePassword(ctx context.Context, identityID, current, next string) error
	// GetProfile は復号済みのプロフィールを返す。
	GetProfile(ctx context.Context, identityID string) (*auth.Profile, error)
}

// AuthHandler はアカウント認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// registerRequest はアカウント登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest はトークン更新・ログアウトリクエストのボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// tokenPairResponse はトークンペアのAPIレスポンス。
type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Register は新規アカウント登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	identityID, err := h.service.Register(r.Context(), req.Name, req.Email, req.Phone, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": identityID})
}

// Login は資格情報を検証し、トークンペアを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password, middleware.ClientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeTokenPairResponse(w, pair)
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンペアを返す。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}
	if req.RefreshToken == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リフレッシュトークンが空です"))
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeTokenPairResponse(w, pair)
}

// Logout はリフレッシュトークンを失効させる。
// 失効済みのトークンを指定しても成功として扱う。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	if req.RefreshToken != "" {
		if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword は現在のパスワードを確認したうえで新しいパスワードに変更する。
// 変更後は既存のリフレッシュトークンがすべて失効する。
// POST /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenMalformed))
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	if err := h.service.ChangePassword(r.Context(), identityID, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のアカウントのプロフィールを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenError(model.ErrCodeTokenMalformed))
		return
	}

	profile, err := h.service.GetProfile(r.Context(), identityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profileResponse{
		ID:        profile.ID,
		Name:      profile.Name,
		Email:     profile.Email,
		Phone:     profile.Phone,
		Role:      string(profile.Role),
		CreatedAt: profile.CreatedAt,
	})
}

// --- ヘルパー関数 ---

// writeTokenPairResponse はトークンペアをJSONで書き込む。
func writeTokenPairResponse(w http.ResponseWriter, pair *token.Pair) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	})
}

// writeInvalidBodyResponse はボディ解析失敗の統一レスポンスを書き込む。
func writeInvalidBodyResponse(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの解析に失敗しました"))
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// カウンタストア障害時は認証を通さず503を返す（fail-closed）
	if errors.Is(err, ratelimit.ErrStoreUnavailable) {
		slog.Error("login attempt store unavailable", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError())
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeAccountLocked:
		return http.StatusForbidden
	case model.ErrCodePasswordPolicy, model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeEmailInUse:
		return http.StatusConflict
	case model.ErrCodeTokenExpired, model.ErrCodeTokenRevoked, model.ErrCodeTokenMalformed:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
