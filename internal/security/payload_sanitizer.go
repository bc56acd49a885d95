// Package security はアプリケーションのセキュリティ機能を提供する。
//
// PayloadSanitizerService は攻撃イベントのペイロードをアラート通知に載せる前に
// 無害化する。bluemondayのStrictPolicyで全タグ・全属性を除去し、
// 実行可能なマークアップが通知経路やログに平文のまま流れることを防ぐ。
package security

import (
	"encoding/base64"

	"github.com/microcosm-cc/bluemonday"
)

// PayloadSanitizerService は攻撃ペイロードの無害化機能のインターフェースを定義する。
// アラート通知の構築時に使用される。
type PayloadSanitizerService interface {
	// Sanitize はペイロードからHTMLタグと属性をすべて除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(payload string) string

	// Obfuscate はペイロードをSanitizeしたうえでbase64符号化する。
	// 符号化は可逆で、受信側はデコードして内容を確認できる。
	Obfuscate(payload string) string
}

// payloadSanitizer はPayloadSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに無害化処理を行う。
type payloadSanitizer struct {
	policy *bluemonday.Policy
}

// NewPayloadSanitizer はPayloadSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たず、全マークアップを除去する。
func NewPayloadSanitizer() *payloadSanitizer {
	return &payloadSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はペイロードからHTMLタグと属性をすべて除去する。
func (s *payloadSanitizer) Sanitize(payload string) string {
	return s.policy.Sanitize(payload)
}

// Obfuscate はペイロードをSanitizeしたうえでbase64符号化する。
func (s *payloadSanitizer) Obfuscate(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(s.Sanitize(payload)))
}
