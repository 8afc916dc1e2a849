package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storycast/internal/middleware"
)

// Pinger はヘルスチェックでのDB疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger
	DB     Pinger

	// スケジュール
	ScheduleService ScheduleServiceInterface
	DefaultAccount  string

	// キュー
	QueueService QueueServiceInterface
	PostExecutor PostExecutorInterface

	// ミックス
	MixService MixServiceInterface

	// コンテンツ
	DuplicateLister DuplicateLister

	// Prometheusスクレイプエンドポイント
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
//
// ヘルスチェックとメトリクスはログミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())

	scheduleHandler := NewScheduleHandler(deps.ScheduleService, deps.DefaultAccount)
	queueHandler := NewQueueHandler(deps.QueueService, deps.PostExecutor)
	mixHandler := NewMixHandler(deps.MixService)
	contentHandler := NewContentHandler(deps.DuplicateLister)

	// --- 運用エンドポイント（アクセスログ対象外） ---

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.PingContext(req.Context()); err != nil {
				deps.Logger.Error("ヘルスチェックのDB疎通確認に失敗しました",
					slog.String("error", err.Error()),
				)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 運用API ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))

		// スケジュール作成
		r.Post("/api/schedule", scheduleHandler.CreateSchedule)

		// 投稿キュー管理
		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", queueHandler.ListQueue)
			r.Post("/process", queueHandler.ProcessQueue)
			r.Post("/force-post", queueHandler.ForcePost)
			r.Delete("/{id}", queueHandler.DeleteQueueItem)
		})

		// カテゴリミックス管理
		r.Route("/api/mix", func(r chi.Router) {
			r.Get("/", mixHandler.GetMix)
			r.Put("/", mixHandler.PutMix)
			r.Get("/history", mixHandler.GetMixHistory)
			r.Get("/uncovered", mixHandler.GetUncoveredCategories)
		})

		// コンテンツカタログ参照
		r.Get("/api/content/duplicates", contentHandler.ListDuplicates)
	})

	return r
}
