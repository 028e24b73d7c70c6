package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paintedminds/paintedminds/internal/metrics"
	"github.com/paintedminds/paintedminds/internal/middleware"
)

// HealthChecker は依存先（DB）の疎通を確認する。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	mountAuthRoutes(r, NewAuthHandler(service, config))
	return r
}

func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 監視（nilの場合はルートを登録しない）
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer
	StatusRecorder  middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 絵と描画セッション
	DrawingService DrawingServiceInterface
	SketchManager  SketchManagerInterface

	// LINE
	WebhookDispatcher WebhookDispatcher
	LineLinkService   LineLinkServiceInterface

	// コンパニオンと報酬
	CompanionService CompanionServiceInterface
	LanguageResolver LanguageResolver
	RewardService    RewardServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  → (認証が必要なルート) Session → CSRF → RateLimit(General) → (AI系のみ) RateLimit(AI)
//
// 認証ルート（/auth/*）、ヘルスチェック、メトリクス、LINE Webhookはセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	drawingHandler := NewDrawingHandler(deps.DrawingService)
	sketchHandler := NewSketchHandler(deps.SketchManager)
	lineHandler := NewLineHandler(deps.WebhookDispatcher, deps.LineLinkService)
	companionHandler := NewCompanionHandler(deps.CompanionService, deps.LanguageResolver)
	rewardHandler := NewRewardHandler(deps.RewardService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	mountAuthRoutes(r, authHandler)

	// LINEプラットフォームからの呼び出し。署名で検証する
	r.Post("/line/webhook", lineHandler.Webhook)

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		ai := deps.RateLimiter.AIMiddleware()

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Patch("/me", userHandler.UpdatePreferences)
			r.Delete("/me", userHandler.Withdraw)
		})

		// ジャーナル
		r.Route("/api/drawings", func(r chi.Router) {
			r.Get("/", drawingHandler.ListJournal)
			r.Post("/", drawingHandler.Save)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", drawingHandler.Get)
				r.Delete("/", drawingHandler.Delete)
				r.Put("/public", drawingHandler.SetPublic)
				r.Post("/star", drawingHandler.ToggleStar)
				r.With(ai).Post("/enhance", drawingHandler.RequestEnhancement)
			})
		})

		// ギャラリー
		r.Get("/api/gallery", drawingHandler.ListGallery)

		// 描画セッション
		r.Route("/api/sketches", func(r chi.Router) {
			r.Post("/", sketchHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sketchHandler.Get)
				r.Delete("/", sketchHandler.Dispose)
				r.Post("/input", sketchHandler.Input)
				r.Put("/tool", sketchHandler.SetTool)
				r.Put("/color", sketchHandler.SetColor)
				r.Post("/undo", sketchHandler.Undo)
				r.Post("/redo", sketchHandler.Redo)
				r.Post("/clear", sketchHandler.Clear)
				r.Put("/size", sketchHandler.Resize)
				r.Get("/snapshot", sketchHandler.GetSnapshot)
				r.Put("/snapshot", sketchHandler.LoadSnapshot)
				r.Get("/export", sketchHandler.Export)
				r.Post("/save", sketchHandler.Save)
			})
		})

		// LINE連携
		r.Route("/api/line", func(r chi.Router) {
			r.Post("/link-token", lineHandler.IssueLinkToken)
			r.Post("/link", lineHandler.Link)
			r.Delete("/link", lineHandler.Unlink)
			r.Get("/status", lineHandler.Status)
		})

		// コンパニオンと音声
		r.With(ai).Post("/api/companions/{kind}/messages", companionHandler.Chat)
		r.Route("/api/speech", func(r chi.Router) {
			r.Use(ai)
			r.Post("/transcribe", companionHandler.Transcribe)
			r.Post("/synthesize", companionHandler.Synthesize)
		})

		// 報酬
		r.Get("/api/rewards", rewardHandler.Get)
	})

	return r
}

// healthHandler はDBの疎通を確認し、結果を返す。checkerがnilの場合は常に200を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
