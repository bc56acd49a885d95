package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/minakata/civicgate/internal/attack"
	"github.com/minakata/civicgate/internal/auth"
	"github.com/minakata/civicgate/internal/config"
	"github.com/minakata/civicgate/internal/database"
	"github.com/minakata/civicgate/internal/fieldcrypt"
	"github.com/minakata/civicgate/internal/handler"
	"github.com/minakata/civicgate/internal/logger"
	"github.com/minakata/civicgate/internal/metrics"
	"github.com/minakata/civicgate/internal/middleware"
	"github.com/minakata/civicgate/internal/password"
	"github.com/minakata/civicgate/internal/ratelimit"
	"github.com/minakata/civicgate/internal/repository"
	"github.com/minakata/civicgate/internal/security"
	"github.com/minakata/civicgate/internal/token"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIゲートウェイモードで起動する。
// DBとRedisへの接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Redis接続（ログイン試行カウンタ用）
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	// 3. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db)

	// 4. 暗号・パスワードポリシーの初期化
	crypt, err := fieldcrypt.New(cfg.FieldEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize field encryption: %w", err)
	}

	policy := password.NewPolicy()
	if cfg.BreachListPath != "" {
		policy, err = password.NewPolicyWithBreachList(cfg.BreachListPath)
		if err != nil {
			return fmt.Errorf("failed to load breach list: %w", err)
		}
	}

	// 5. トークン・ログイン制限の初期化
	tokenService := token.NewService(
		cfg.JWTSecret, cfg.JWTIssuer,
		cfg.AccessTTL, cfg.RefreshTTL,
		identRepo, refreshRepo,
	)

	loginLimiter := ratelimit.NewLoginLimiter(redisClient, ratelimit.Config{
		Threshold:       cfg.LockoutThreshold,
		Window:          cfg.LoginWindow,
		LockoutDuration: cfg.LockoutDuration,
		SourceThreshold: cfg.RateLimitPerIP,
	})

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 7. 攻撃検知パイプラインの初期化
	ssrfGuard := security.NewSSRFGuard()
	notifier := attack.NewWebhookNotifier(ssrfGuard, cfg.AlertWebhookURL, cfg.AlertTimeout)
	dispatcher := attack.NewDispatcher(
		attack.DispatcherConfig{Timeout: cfg.AlertTimeout},
		notifier, collector, slog.Default(),
	)
	pipeline := attack.NewPipeline(
		attack.NewClassifier(), attack.NewFeed(), dispatcher,
		security.NewPayloadSanitizer(), collector,
		[]string{cfg.AlertRecipient},
	)

	// 8. 認証サービスの初期化
	authService := auth.NewService(
		identRepo, crypt, policy, tokenService,
		loginLimiter, collector, slog.Default(),
		cfg.LockoutDuration,
	)

	// 9. IPごとのレートリミッタの初期化（req/min設定をreq/secに変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.Rate = rate.Limit(float64(cfg.RateLimitPerIP) / 60.0)
	rateLimiterCfg.Burst = cfg.RateLimitPerIP
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)

	// 10. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Collector:         collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TokenVerifier:     tokenService,
		AuthService:       authService,
		AttackPipeline:    pipeline,
		Gatherer:          registry,
	})

	// 11. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 期限切れリフレッシュトークンの定期削除
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepExpiredTokens(sweepCtx, refreshRepo)

	go func() {
		slog.Info("gateway server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down gateway server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 未送信のアラートをフラッシュしてからワーカーを停止する
	dispatcher.Close()
	rateLimiter.Stop()

	slog.Info("gateway server stopped gracefully")
	return nil
}

// sweepExpiredTokens は期限切れのリフレッシュトークンを1時間ごとに削除する。
// 起動直後にも1回実行する。
func sweepExpiredTokens(ctx context.Context, repo repository.RefreshTokenRepository) {
	sweep := func() {
		n, err := repo.DeleteExpired(ctx, time.Now())
		if err != nil {
			slog.Error("expired token sweep failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			slog.Info("expired refresh tokens deleted", slog.Int64("count", n))
		}
	}

	sweep()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
