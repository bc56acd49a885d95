// Package model はドメインモデルを定義する。
package model

import "time"

// Role は市民ポータル利用者の役割を表す。
type Role string

const (
	// RoleCitizen は一般市民の役割。
	RoleCitizen Role = "citizen"
	// RoleOfficer は自治体職員の役割。
	RoleOfficer Role = "officer"
	// RoleAdmin はシステム管理者の役割。
	RoleAdmin Role = "admin"
)

// ValidRole は既知の役割かどうかを判定する。
func ValidRole(r Role) bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleAdmin:
		return true
	}
	return false
}

// PermissionSet はドメイン名（agriculture, urban, healthcare, monitoring等）から
// 許可アクション集合へのマッピングを表す。
// 例: {"agriculture": ["read", "apply"], "monitoring": ["read"]}
type PermissionSet map[string][]string

// Allows は指定ドメインで指定アクションが許可されているかを判定する。
func (p PermissionSet) Allows(domain, action string) bool {
	actions, ok := p[domain]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// DefaultPermissions は役割に応じたデフォルトの権限セットを返す。
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleAdmin:
		return PermissionSet{
			"agriculture": {"read", "write", "admin"},
			"urban":       {"read", "write", "admin"},
			"healthcare":  {"read", "write", "admin"},
			"monitoring":  {"read", "write", "admin"},
		}
	case RoleOfficer:
		return PermissionSet{
			"agriculture": {"read", "write"},
			"urban":       {"read", "write"},
			"healthcare":  {"read", "write"},
			"monitoring":  {"read"},
		}
	default:
		return PermissionSet{
			"agriculture": {"read", "apply"},
			"urban":       {"read", "apply"},
			"healthcare":  {"read", "apply"},
		}
	}
}

// Identity は認証主体（市民・職員・管理者）を表す。
// EmailEncrypted / PhoneEncrypted は保存時に必ずフィールド暗号化された値を持ち、
// 平文はリポジトリ層へ到達しない。EmailHash は検索用の一方向ハッシュ。
type Identity struct {
	ID             string
	Name           string
	EmailEncrypted string
	EmailHash      string
	PhoneEncrypted string
	PasswordHash   string
	Role           Role
	Permissions    PermissionSet
	FailedAttempts int
	LockoutUntil   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockedOut は指定時刻においてロックアウト中かどうかを判定する。
func (i *Identity) LockedOut(now time.Time) bool {
	return i.LockoutUntil != nil && now.Before(*i.LockoutUntil)
}

// RefreshToken は有効なリフレッシュトークンIDの台帳エントリを表す。
// 行の存在がアクティブ集合への所属を意味する。ローテーションまたは失効で行は削除され、
// 同じIDが再びアクティブに戻ることはない。
type RefreshToken struct {
	ID         string
	IdentityID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
