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

	"github.com/hitoshi/storycast/internal/config"
	"github.com/hitoshi/storycast/internal/database"
	"github.com/hitoshi/storycast/internal/handler"
	"github.com/hitoshi/storycast/internal/logger"
	"github.com/hitoshi/storycast/internal/metrics"
	"github.com/hitoshi/storycast/internal/mix"
	"github.com/hitoshi/storycast/internal/notify"
	"github.com/hitoshi/storycast/internal/post"
	"github.com/hitoshi/storycast/internal/publish"
	"github.com/hitoshi/storycast/internal/queue"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/schedule"
	"github.com/hitoshi/storycast/internal/security"
	"github.com/hitoshi/storycast/internal/servicerun"
	"github.com/hitoshi/storycast/internal/worker/cleanup"
	"github.com/hitoshi/storycast/internal/worker/poster"
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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// executorDeps は投稿エグゼキュータのワイヤリング結果。
// serveとworkerの両モードで共通に使用する。
type executorDeps struct {
	executor    *post.Executor
	queueSvc    *queue.Service
	contentRepo *repository.PostgresContentRepo
	queueRepo   *repository.PostgresQueueRepo
	mixSvc      *mix.Service
	scheduleSvc *schedule.Service
	runRepo     *repository.PostgresServiceRunRepo
	collector   *metrics.Collector
	registry    *prometheus.Registry
}

// buildExecutor は投稿パイプラインの全依存関係をワイヤリングする。
func buildExecutor(cfg *config.Config, db *sql.DB) (*executorDeps, error) {
	log := slog.Default()

	// 1. リポジトリの初期化
	contentRepo := repository.NewPostgresContentRepo(db)
	queueRepo := repository.NewPostgresQueueRepo(db)
	mixRepo := repository.NewPostgresMixRepo(db)
	runRepo := repository.NewPostgresServiceRunRepo(db)

	// 2. 監査トラッカーとメトリクス
	tracker := servicerun.NewTracker(runRepo, log)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 公開クライアント
	publisher := publish.NewClient(
		&http.Client{Timeout: cfg.PublishTimeout},
		log,
		publish.Config{
			BaseURL:       cfg.StoriesAPIBaseURL,
			Token:         cfg.StoriesAPIToken,
			RatePerMinute: cfg.PublishRatePerMinute,
		},
	)

	// 4. 通知（Webhook URL未設定の場合は無効化）
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.NotifyWebhookURL != "" {
		ssrfGuard := security.NewSSRFGuard()
		sanitizer := security.NewCaptionSanitizer()
		webhookNotifier, err := notify.NewWebhookNotifier(
			ssrfGuard, sanitizer, log, cfg.NotifyWebhookURL, 10*time.Second,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to configure webhook notifier: %w", err)
		}
		notifier = webhookNotifier
	}

	// 5. ドメインサービスの初期化
	queueSvc := queue.NewService(queueRepo, log)
	mixSvc := mix.NewService(mixRepo, contentRepo, tracker, log)
	scheduleSvc := schedule.NewService(
		contentRepo, queueRepo, mixSvc, tracker, collector, log,
		schedule.SlotLayout{
			WindowStart: cfg.SlotWindowStart,
			WindowEnd:   cfg.SlotWindowEnd,
		},
	)

	executor := post.NewExecutor(
		queueSvc, queueRepo, contentRepo,
		publisher, notifier, tracker, collector, log,
		post.Config{
			PublishTimeout:      cfg.PublishTimeout,
			RetryMax:            cfg.RetryMax,
			RetryBackoffMinutes: cfg.RetryBackoffMinutes,
			ForceShiftMinutes:   cfg.ForceShiftMinutes,
		},
	)

	return &executorDeps{
		executor:    executor,
		queueSvc:    queueSvc,
		contentRepo: contentRepo,
		queueRepo:   queueRepo,
		mixSvc:      mixSvc,
		scheduleSvc: scheduleSvc,
		runRepo:     runRepo,
		collector:   collector,
		registry:    registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
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

	// 2. 依存関係のワイヤリング
	deps, err := buildExecutor(cfg, db)
	if err != nil {
		return err
	}

	// 3. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger: slog.Default(),
		DB:     db,

		ScheduleService: deps.scheduleSvc,
		DefaultAccount:  cfg.DefaultAccount,

		QueueService: deps.queueSvc,
		PostExecutor: deps.executor,

		MixService: deps.mixSvc,

		DuplicateLister: deps.contentRepo,

		MetricsHandler: metrics.Handler(deps.registry),
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、投稿ワーカーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 依存関係のワイヤリング
	deps, err := buildExecutor(cfg, db)
	if err != nil {
		return err
	}

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(deps.runRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.RunRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("process_interval", cfg.ProcessInterval),
		slog.Int("run_retention_days", cfg.RunRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx)

	// 投稿ワーカーをメインgoroutineで実行（ブロッキング）
	postWorker := poster.NewWorker(deps.executor, slog.Default())
	postWorker.Start(ctx, cfg.ProcessInterval)

	slog.Info("worker stopped gracefully")
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
