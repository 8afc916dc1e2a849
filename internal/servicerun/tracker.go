// Package servicerun は追跡対象オペレーションの監査記録を提供する。
// 各サービスは操作開始時にBeginで記録を開始し、
// SucceedまたはFailでちょうど1回だけクローズする。
package servicerun

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/repository"
)

// Tracker はサービス実行記録の開始とクローズを行う。
// 記録の失敗は呼び出し元の操作を失敗させない（ログのみ）。
type Tracker struct {
	repo   repository.ServiceRunRepository
	logger *slog.Logger
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(repo repository.ServiceRunRepository, logger *slog.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger}
}

// Run は実行中の1記録を表すハンドル。
type Run struct {
	tracker *Tracker
	run     *model.ServiceRun

	mu   sync.Mutex
	done bool
}

// Begin は指定メソッドの実行記録を開始する。
// actorは操作を起動したアクター（定期実行の場合は空文字列）。
// 記録の永続化に失敗してもnilでないハンドルを返し、操作は続行できる。
func (t *Tracker) Begin(ctx context.Context, method, actor string) *Run {
	run := &model.ServiceRun{
		ID:        uuid.NewString(),
		Method:    method,
		Actor:     actor,
		StartedAt: time.Now(),
		Status:    model.ServiceRunStatusRunning,
	}

	if err := t.repo.Create(ctx, run); err != nil {
		t.logger.Error("サービス実行記録の開始に失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
	}

	return &Run{tracker: t, run: run}
}

// Succeed は記録を成功としてクローズする。2回目以降の呼び出しは無視される。
func (r *Run) Succeed(ctx context.Context, result string) {
	r.finish(ctx, model.ServiceRunStatusSuccess, result, "")
}

// Fail は記録を失敗としてクローズする。2回目以降の呼び出しは無視される。
func (r *Run) Fail(ctx context.Context, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.finish(ctx, model.ServiceRunStatusFailed, "", msg)
}

// finish は記録をちょうど1回だけクローズする。
func (r *Run) finish(ctx context.Context, status model.ServiceRunStatus, result, errMsg string) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	now := time.Now()
	durationMs := now.Sub(r.run.StartedAt).Milliseconds()

	r.run.FinishedAt = &now
	r.run.DurationMs = &durationMs
	r.run.Status = status
	r.run.Result = result
	r.run.ErrorMessage = errMsg

	if err := r.tracker.repo.Finish(ctx, r.run); err != nil {
		r.tracker.logger.Error("サービス実行記録のクローズに失敗しました",
			slog.String("method", r.run.Method),
			slog.String("error", err.Error()),
		)
	}
}
