// Package model はドメインモデルを定義する。
package model

import "time"

// AttackCategory は検知された攻撃の分類を表す。
type AttackCategory string

const (
	// AttackXSS はスクリプト注入（クロスサイトスクリプティング）の分類。
	AttackXSS AttackCategory = "xss"
	// AttackSQLInjection はSQL演算子注入の分類。
	AttackSQLInjection AttackCategory = "sql_injection"
	// AttackNoSQLInjection はNoSQL演算子注入の分類。
	AttackNoSQLInjection AttackCategory = "nosql_injection"
	// AttackShellInjection はシェルメタ文字注入の分類。
	AttackShellInjection AttackCategory = "shell_injection"
	// AttackPathTraversal はパストラバーサルの分類。
	AttackPathTraversal AttackCategory = "path_traversal"
	// AttackPrototypePollution はプロトタイプ汚染キーの分類。
	AttackPrototypePollution AttackCategory = "prototype_pollution"
	// AttackXXE は外部実体宣言（XXE）の分類。
	AttackXXE AttackCategory = "xxe"
	// AttackTokenTampering はトークン改ざんの分類。
	AttackTokenTampering AttackCategory = "token_tampering"
	// AttackBruteForce はブルートフォース（連続認証失敗）の分類。
	AttackBruteForce AttackCategory = "brute_force"
)

// ValidAttackCategory は既知の攻撃分類かどうかを判定する。
func ValidAttackCategory(c AttackCategory) bool {
	switch c {
	case AttackXSS, AttackSQLInjection, AttackNoSQLInjection, AttackShellInjection,
		AttackPathTraversal, AttackPrototypePollution, AttackXXE,
		AttackTokenTampering, AttackBruteForce:
		return true
	}
	return false
}

// AttackEvent は分類済みリクエスト1件の記録を表す。
// プロセス内のフィードにのみ保持され、明示的にエクスポートしない限り永続化されない。
type AttackEvent struct {
	Category  AttackCategory
	Payload   string
	SourceIP  string
	Path      string
	Blocked   bool
	Critical  bool
	Timestamp time.Time
}

// Alert はクリティカルな攻撃イベントに対する通知を表す。
// Payloadは難読化済み（サニタイズ後base64）であり、平文のまま配送されることはない。
type Alert struct {
	Recipients []string
	Category   AttackCategory
	Payload    string
	Timestamp  time.Time
}
