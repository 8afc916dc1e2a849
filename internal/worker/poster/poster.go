// Package poster は投稿キューのバックグラウンド処理を提供する。
// 定期ティッカーで期限到来エントリを検出し、エグゼキュータに処理を委譲する。
package poster

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// PostExecutorService は投稿サイクル実行のインターフェース。
type PostExecutorService interface {
	// ProcessPendingPosts は期限到来した全pendingエントリを処理する。
	ProcessPendingPosts(ctx context.Context, actor string) (*model.ProcessResult, error)
}

// workerActor はバックグラウンド実行時の操作主体として監査ログに記録される。
const workerActor = "poster-worker"

// Worker は投稿キューの定期処理ワーカー。
// エントリ間の順序保証のため並列化はせず、1サイクルを逐次処理する。
type Worker struct {
	executor PostExecutorService
	logger   *slog.Logger
}

// NewWorker はWorkerの新しいインスタンスを生成する。
func NewWorker(executor PostExecutorService, logger *slog.Logger) *Worker {
	return &Worker{
		executor: executor,
		logger:   logger,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("投稿ワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("投稿サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("投稿ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("投稿サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は投稿サイクルを1回実行する。
// キューが他の操作にロックされている場合はスキップし、次のティックに委ねる。
func (w *Worker) RunOnce(ctx context.Context) error {
	result, err := w.executor.ProcessPendingPosts(ctx, workerActor)
	if err != nil {
		return err
	}

	if result.Error != "" {
		w.logger.Info("投稿サイクルをスキップしました",
			slog.String("reason", result.Error),
		)
	}

	return nil
}
