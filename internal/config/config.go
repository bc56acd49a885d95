// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（ログイン試行カウンタ用）
	RedisAddr     string
	RedisPassword string

	// トークン署名
	JWTSecret    []byte
	JWTIssuer    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	// フィールド暗号化（32バイトのAES-256鍵、base64エンコード）
	FieldEncryptionKey []byte

	// ログイン試行制限とロックアウト
	LockoutThreshold int
	LockoutDuration  time.Duration
	LoginWindow      time.Duration

	// ソースIP単位のレート制限（req/min）
	RateLimitPerIP int

	// パスワードポリシー
	BreachListPath string

	// アラート通知
	AlertWebhookURL string
	AlertRecipient  string
	AlertTimeout    time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 署名鍵・暗号化鍵を含む必須環境変数が未設定の場合はエラーを返す。
// 鍵素材の欠落は起動時の致命的エラーであり、リクエスト処理まで持ち越さない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	encKey := os.Getenv("FIELD_ENCRYPTION_KEY")
	if encKey == "" {
		missing = append(missing, "FIELD_ENCRYPTION_KEY")
	}

	cfg.AlertWebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	if cfg.AlertWebhookURL == "" {
		missing = append(missing, "ALERT_WEBHOOK_URL")
	}

	cfg.AlertRecipient = os.Getenv("ALERT_RECIPIENT")
	if cfg.AlertRecipient == "" {
		missing = append(missing, "ALERT_RECIPIENT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.JWTSecret = []byte(jwtSecret)
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	// フィールド暗号化鍵はbase64デコード後に32バイト（AES-256）であること
	decoded, err := base64.StdEncoding.DecodeString(encKey)
	if err != nil {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY must be base64-encoded: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(decoded))
	}
	cfg.FieldEncryptionKey = decoded

	// Optional fields with defaults
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "civicgate")
	cfg.AccessTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.LockoutThreshold = getEnvInt("LOCKOUT_THRESHOLD", 5)
	cfg.LockoutDuration = getEnvDuration("LOCKOUT_DURATION", 15*time.Minute)
	cfg.LoginWindow = getEnvDuration("LOGIN_WINDOW", 15*time.Minute)
	cfg.RateLimitPerIP = getEnvInt("RATE_LIMIT_PER_IP", 120)
	cfg.BreachListPath = getEnvString("BREACH_LIST_PATH", "")
	cfg.AlertTimeout = getEnvDuration("ALERT_TIMEOUT", 5*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は読み込み後の設定値の妥当性を検証する。
func validate(cfg *Config) error {
	if cfg.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.LockoutDuration <= 0 || cfg.LoginWindow <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION and LOGIN_WINDOW must be positive")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if !strings.HasPrefix(cfg.AlertWebhookURL, "http://") && !strings.HasPrefix(cfg.AlertWebhookURL, "https://") {
		return fmt.Errorf("ALERT_WEBHOOK_URL must be an http(s) URL")
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
