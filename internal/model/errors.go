// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, security, system
	Action   string   // ユーザー向け対処方法
	Details  []string // 補足情報（パスワードポリシー違反の列挙等）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked      = "ACCOUNT_LOCKED"
	ErrCodePasswordPolicy     = "PASSWORD_POLICY"
	ErrCodeEmailInUse         = "EMAIL_IN_USE"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked       = "TOKEN_REVOKED"
	ErrCodeTokenMalformed     = "TOKEN_MALFORMED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnavailable        = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレスの存在有無を漏らさないよう、理由は常に同一の文言とする。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewAccountLockedError はロックアウトエラーを生成する。
func NewAccountLockedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  "ログイン失敗が続いたため、アカウントを一時的にロックしています。",
		Category: "auth",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewPasswordPolicyError はパスワードポリシー違反エラーを生成する。
// violationsには違反したルールをすべて列挙する（最初の1件だけではない）。
func NewPasswordPolicyError(violations []string) *APIError {
	return &APIError{
		Code:     ErrCodePasswordPolicy,
		Message:  "パスワードが安全性の要件を満たしていません。",
		Category: "validation",
		Action:   "指摘されたすべての項目を修正してください。",
		Details:  violations,
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewTokenError はトークン検証エラーを生成する。
// codeにはErrCodeTokenExpired / ErrCodeTokenRevoked / ErrCodeTokenMalformedを指定する。
func NewTokenError(code string) *APIError {
	return &APIError{
		Code:     code,
		Message:  "認証トークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "必要な権限を持つアカウントでログインしてください。",
	}
}

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewServiceUnavailableError は依存サービスが利用できない場合のエラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "現在このサービスをご利用いただけません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidInputError は入力形式エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力形式を確認してください。",
	}
}
