package repository

import (
	"testing"
)

// PostgresIdentityRepoはIdentityRepositoryインターフェースを満たすことを検証
func TestPostgresIdentityRepo_ImplementsInterface(t *testing.T) {
	var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
}

// PostgresRefreshTokenRepoはRefreshTokenRepositoryインターフェースを満たすことを検証
func TestPostgresRefreshTokenRepo_ImplementsInterface(t *testing.T) {
	var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
}

// NewPostgresIdentityRepoが正しく初期化されることを検証
func TestNewPostgresIdentityRepo_Initializes(t *testing.T) {
	repo := NewPostgresIdentityRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresRefreshTokenRepoが正しく初期化されることを検証
func TestNewPostgresRefreshTokenRepo_Initializes(t *testing.T) {
	repo := NewPostgresRefreshTokenRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}
