package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/minakata/civicgate/internal/metrics"
	"github.com/minakata/civicgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Collector         metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TokenVerifier     middleware.TokenVerifier

	// 認証
	AuthService AuthServiceInterface

	// 攻撃検知
	AttackPipeline AttackPipelineInterface

	// メトリクス公開
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → CORS → Logging → Recovery → RateLimit(per-IP) → AttackObserver
//
// セキュリティヘッダーを最上位に置くことで、エラーレスポンスを含む
// すべてのレスポンスにヘッダーが付与される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}
	if deps.AttackPipeline != nil {
		r.Use(middleware.NewAttackObserverMiddleware(func(content, sourceIP, path string) {
			deps.AttackPipeline.Observe(content, sourceIP, path, false)
		}))
	}

	authHandler := NewAuthHandler(deps.AuthService)
	securityHandler := NewSecurityHandler(deps.AttackPipeline)
	portalHandler := NewPortalHandler()

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)
	r.Post("/api/auth/refresh", authHandler.Refresh)
	r.Post("/api/auth/logout", authHandler.Logout)

	// 各コンポーネントからの攻撃イベント通報窓口
	r.Post("/api/security/alert", securityHandler.ReportAlert)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewGuardMiddleware(deps.TokenVerifier, attackReporter(deps.AttackPipeline)))

		r.Get("/api/auth/me", authHandler.Me)
		r.Post("/api/auth/password", authHandler.ChangePassword)

		// 行政ドメイン入口（役割に応じた権限で認可）
		r.With(middleware.NewPermissionMiddleware("agriculture", "read")).
			Get("/api/agriculture", portalHandler.Domain("agriculture"))
		r.With(middleware.NewPermissionMiddleware("urban", "read")).
			Get("/api/urban", portalHandler.Domain("urban"))
		r.With(middleware.NewPermissionMiddleware("healthcare", "read")).
			Get("/api/healthcare", portalHandler.Domain("healthcare"))
		r.With(middleware.NewPermissionMiddleware("monitoring", "read")).
			Get("/api/monitoring", portalHandler.Domain("monitoring"))

		// 攻撃イベントの照会（モニタリング権限が必要）
		r.With(middleware.NewPermissionMiddleware("monitoring", "read")).
			Get("/api/security/events", securityHandler.ListEvents)
		r.With(middleware.NewPermissionMiddleware("monitoring", "read")).
			Get("/api/security/stats", securityHandler.GetStats)
	})

	return r
}

// attackReporter はAttackPipelineInterfaceをmiddleware.AttackReporterに適合させる。
// パイプラインが未設定の場合はnilを返し、通報を無効化する。
func attackReporter(pipeline AttackPipelineInterface) middleware.AttackReporter {
	if pipeline == nil {
		return nil
	}
	return pipeline
}
