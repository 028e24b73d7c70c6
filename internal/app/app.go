package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/paintedminds/paintedminds/internal/auth"
	"github.com/paintedminds/paintedminds/internal/companion"
	"github.com/paintedminds/paintedminds/internal/config"
	"github.com/paintedminds/paintedminds/internal/database"
	"github.com/paintedminds/paintedminds/internal/drawing"
	enhanceapi "github.com/paintedminds/paintedminds/internal/enhance"
	"github.com/paintedminds/paintedminds/internal/handler"
	"github.com/paintedminds/paintedminds/internal/line"
	"github.com/paintedminds/paintedminds/internal/logger"
	"github.com/paintedminds/paintedminds/internal/metrics"
	"github.com/paintedminds/paintedminds/internal/middleware"
	"github.com/paintedminds/paintedminds/internal/repository"
	"github.com/paintedminds/paintedminds/internal/reward"
	"github.com/paintedminds/paintedminds/internal/security"
	"github.com/paintedminds/paintedminds/internal/sketch"
	"github.com/paintedminds/paintedminds/internal/storage"
	"github.com/paintedminds/paintedminds/internal/user"
	"github.com/paintedminds/paintedminds/internal/worker/cleanup"
	"github.com/paintedminds/paintedminds/internal/worker/enhance"
	"github.com/paintedminds/paintedminds/internal/worker/reminder"
)

// sketchSweepInterval は放置された描画セッションを確認する間隔。
const sketchSweepInterval = time.Minute

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 3. 環境変数から設定を読み込む
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
	cmd, err := ParseCommand(args)
	if err != nil {
		fmt.Fprint(w, Usage())
		return err
	}
	if cmd == CommandHelp {
		fmt.Fprint(w, Usage())
		return nil
	}

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRemind:
		return runRemind(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newStore は画像の保存先を生成する。
func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		UsePathStyle:  cfg.S3UsePathStyle,
		PublicBaseURL: cfg.S3PublicBaseURL,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	return store, nil
}

// newDeduper はWebhookイベントの重複排除を生成する。
// REDIS_URLが設定されていればRedisを使い、なければプロセス内で記録する。
func newDeduper(cfg *config.Config) (line.Deduper, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set; webhook deduplication is process-local")
		return line.NewMemoryDeduper(0), func() {}, nil
	}
	client, err := line.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return line.NewRedisDeduper(client, 0), func() { client.Close() }, nil
}

// newMetrics はPrometheusのレジストリとコレクタを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 外部リソースの初期化
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	deduper, closeDeduper, err := newDeduper(cfg)
	if err != nil {
		return err
	}
	defer closeDeduper()

	registry, collector := newMetrics()

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	drawingRepo := repository.NewPostgresDrawingRepo(db)
	lineAccountRepo := repository.NewPostgresLineAccountRepo(db)
	linkTokenRepo := repository.NewPostgresLinkTokenRepo(db)

	// 4. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	linkService := line.NewLinkService(lineAccountRepo, linkTokenRepo, slog.Default(),
		line.WithTokenTTL(cfg.LinkTokenTTL),
		line.WithRecorder(collector),
	)
	userService := user.NewService(userRepo, sessionRepo, drawingRepo, store, lineAccountRepo, slog.Default())
	drawingService := drawing.NewService(drawingRepo, store, sanitizer, collector, slog.Default())
	rewardService := reward.NewService(drawingRepo, userRepo)

	lineClient := line.NewClient(&http.Client{Timeout: 10 * time.Second}, slog.Default(), cfg.LineChannelAccessToken)
	dispatcher := line.NewDispatcher(line.DispatcherConfig{
		ChannelSecret: cfg.LineChannelSecret,
		BaseURL:       cfg.BaseURL,
		Links:         linkService,
		Users:         userRepo,
		Messenger:     lineClient,
		Deduper:       deduper,
		Recorder:      collector,
		Logger:        slog.Default(),
	})

	if !cfg.CompanionEnabled() {
		slog.Warn("OPENAI_API_KEY is not set; companion and speech requests will fail")
	}
	companionClient := companion.NewClient(&http.Client{Timeout: 60 * time.Second}, slog.Default(), companion.Config{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		ChatModel: cfg.OpenAIModel,
	})
	companionService := companion.NewService(companionClient, companionClient, sanitizer, slog.Default())

	// 5. 描画セッションの管理
	sketchManager := sketch.NewManager(drawingService, slog.Default(), cfg.SketchIdleTimeout)
	go sketchManager.Start(ctx, sketchSweepInterval)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAI),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		RateLimiter: rateLimiter,

		HealthChecker:   db,
		MetricsGatherer: registry,
		StatusRecorder:  collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService: userService,

		DrawingService: drawingService,
		SketchManager:  sketchManager,

		WebhookDispatcher: dispatcher,
		LineLinkService:   linkService,

		CompanionService: companionService,
		LanguageResolver: handler.NewUserLanguageAdapter(userService),
		RewardService:    rewardService,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 絵の仕上げスケジューラ、リマインダー、クリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 外部リソースとリポジトリの初期化
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	_, collector := newMetrics()

	drawingRepo := repository.NewPostgresDrawingRepo(db)
	lineAccountRepo := repository.NewPostgresLineAccountRepo(db)

	// 3. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// 4. リマインダージョブ
	reminderJob := newReminderJob(cfg, lineAccountRepo, collector)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("enhance_interval", cfg.EnhanceInterval),
		slog.Int("max_concurrent", cfg.EnhanceMaxConcurrent),
		slog.Int("reminder_hour_utc", cfg.ReminderHourUTC),
	)

	// クリーンアップジョブを日次でバックグラウンド実行（起動直後に1回実行）
	go cleanupJob.Start(ctx, 24*time.Hour)

	// リマインダーを毎日決まった時刻に送信
	go reminderJob.Start(ctx, cfg.ReminderHourUTC)

	if !cfg.EnhanceEnabled() {
		slog.Warn("ENHANCE_API_TOKEN or ENHANCE_MODEL is not set; enhancement scheduler is disabled")
		<-ctx.Done()
		slog.Info("worker stopped gracefully")
		return nil
	}

	// 5. 絵の仕上げスケジューラ
	ssrfGuard := security.NewSSRFGuard(cfg.EnhanceAllowedHosts...)
	enhancer := enhanceapi.NewClient(&http.Client{Timeout: 30 * time.Second}, slog.Default(), enhanceapi.Config{
		APIToken: cfg.EnhanceAPIToken,
		Model:    cfg.EnhanceModel,
	})
	processor := enhance.NewProcessor(drawingRepo, enhancer, store, ssrfGuard, collector, slog.Default(),
		enhance.ProcessorConfig{
			Timeout:         cfg.EnhanceTimeout,
			DownloadTimeout: cfg.EnhanceDownloadTimeout,
			MaxImageSize:    cfg.EnhanceMaxImageSize,
		},
	)
	scheduler := enhance.NewScheduler(drawingRepo, processor, slog.Default(), cfg.EnhanceMaxConcurrent)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.EnhanceInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newReminderJob はLINEへのリマインダー送信ジョブを生成する。
func newReminderJob(cfg *config.Config, accounts repository.LineAccountRepository, collector *metrics.Collector) *reminder.Job {
	lineClient := line.NewClient(&http.Client{Timeout: 10 * time.Second}, slog.Default(), cfg.LineChannelAccessToken)
	return reminder.NewJob(accounts, lineClient, slog.Default(), reminder.Config{
		PushesPerSecond: float64(cfg.ReminderPerSecond),
		Recorder:        collector,
	})
}

// runRemind はリマインダーを1回だけ送信して終了する。配信確認や手動の再送に使う。
func runRemind(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	_, collector := newMetrics()
	job := newReminderJob(cfg, repository.NewPostgresLineAccountRepo(db), collector)
	sent, err := job.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reminder failed: %w", err)
	}
	slog.Info("reminders sent", slog.Int("sent", sent))
	return nil
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

	version, _, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
