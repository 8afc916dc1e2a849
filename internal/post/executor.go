package post

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storycast/internal/metrics"
	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/notify"
	"github.com/hitoshi/storycast/internal/publish"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/servicerun"
)

// QueueService はエグゼキュータが必要とするキュー操作のインターフェース。
type QueueService interface {
	// Pending はscheduled_at <= dueBeforeのpendingエントリを昇順で返す。
	Pending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error)
	// UpdateStatus は状態遷移を検証した上で適用する。
	UpdateStatus(ctx context.Context, id string, status model.QueueStatus, externalPostID, errorMessage string) error
	// ScheduleRetry はfailedエントリをpendingに再armする。
	ScheduleRetry(ctx context.Context, id string, retryMinutes int) error
}

// QueueLocker はキューロックと直接のキュー操作のインターフェース。
// repository.QueueRepositoryの必要部分のみを切り出している。
type QueueLocker interface {
	LockQueue(ctx context.Context) (repository.UnlockFunc, error)
	FindEarliestPending(ctx context.Context) (*model.QueueItem, error)
	ShiftPending(ctx context.Context, shift time.Duration) (int, error)
}

// ContentProvider はエグゼキュータが必要とするカタログ操作のインターフェース。
type ContentProvider interface {
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)
	RecordPosted(ctx context.Context, contentID string, postedAt time.Time) error
}

// Config はエグゼキュータのポリシー設定。
// リトライ上限・バックオフ・前倒し幅はハードコードせず設定から渡す。
type Config struct {
	PublishTimeout      time.Duration
	RetryMax            int
	RetryBackoffMinutes int
	ForceShiftMinutes   int
}

// Executor は期限到来エントリの投稿処理と手動即時投稿を提供する。
// 1回の操作内でのみ状態を持ち、全ての永続状態はリポジトリが所有する。
type Executor struct {
	queueSvc    QueueService
	locker      QueueLocker
	contentRepo ContentProvider
	publisher   publish.Publisher
	notifier    notify.Notifier
	tracker     *servicerun.Tracker
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	cfg         Config
}

// NewExecutor はExecutorの新しいインスタンスを生成する。
func NewExecutor(
	queueSvc QueueService,
	locker QueueLocker,
	contentRepo ContentProvider,
	publisher publish.Publisher,
	notifier notify.Notifier,
	tracker *servicerun.Tracker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Executor {
	return &Executor{
		queueSvc:    queueSvc,
		locker:      locker,
		contentRepo: contentRepo,
		publisher:   publisher,
		notifier:    notifier,
		tracker:     tracker,
		collector:   collector,
		logger:      logger,
		cfg:         cfg,
	}
}

// ProcessPendingPosts は期限到来した全pendingエントリをscheduled_at昇順で処理する。
// 個別エントリの失敗は後続エントリの処理を中断しない。
// キューロックが取得できない場合（並行実行中）は何も処理せず結果のErrorに記録する。
func (e *Executor) ProcessPendingPosts(ctx context.Context, actor string) (*model.ProcessResult, error) {
	run := e.tracker.Begin(ctx, "post.ProcessPendingPosts", actor)
	result := &model.ProcessResult{}

	unlock, err := e.locker.LockQueue(ctx)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	if unlock == nil {
		result.Error = "投稿キューは他の操作によってロックされています"
		run.Succeed(ctx, result.Error)
		return result, nil
	}
	defer unlock()

	items, err := e.queueSvc.Pending(ctx, time.Now())
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}

	if len(items) == 0 {
		e.logger.Info("投稿対象のキューエントリはありません")
		run.Succeed(ctx, "processed=0")
		return result, nil
	}

	e.logger.Info("投稿サイクルを開始します",
		slog.Int("item_count", len(items)),
	)

	for _, item := range items {
		result.Processed++
		if e.publishOne(ctx, item, result) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	summary := fmt.Sprintf("processed=%d succeeded=%d failed=%d",
		result.Processed, result.Succeeded, result.Failed)
	e.logger.Info("投稿サイクルが完了しました",
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("retries_scheduled", result.RetriesScheduled),
		slog.Int("retry_exhausted", result.RetryExhausted),
	)
	run.Succeed(ctx, summary)

	return result, nil
}

// ForcePostNext は最先頭のpendingエントリを予定時刻を待たず即時公開する。
// 成功時は残りの全pendingエントリを設定された幅だけ前倒しし、空いた枠を詰める。
// 前倒しは単一UPDATE文で行われるため、一貫したスナップショットに対して適用される。
func (e *Executor) ForcePostNext(ctx context.Context, actor string) (*model.ForcePostResult, error) {
	run := e.tracker.Begin(ctx, "post.ForcePostNext", actor)
	result := &model.ForcePostResult{}

	unlock, err := e.locker.LockQueue(ctx)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	if unlock == nil {
		result.Error = "投稿キューは他の操作によってロックされています"
		run.Succeed(ctx, result.Error)
		return result, nil
	}
	defer unlock()

	item, err := e.locker.FindEarliestPending(ctx)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	if item == nil {
		result.Error = "投稿待ちのキューエントリが存在しません"
		run.Succeed(ctx, result.Error)
		return result, nil
	}

	result.QueueItemID = item.ID

	procResult := &model.ProcessResult{}
	if e.publishOne(ctx, item, procResult) {
		result.Posted = true
		result.ExternalPostID = item.ExternalPostID

		shifted, err := e.locker.ShiftPending(ctx, time.Duration(e.cfg.ForceShiftMinutes)*time.Minute)
		if err != nil {
			run.Fail(ctx, err)
			return nil, err
		}
		result.ShiftedCount = shifted
		e.collector.RecordForcePost()

		e.logger.Info("手動即時投稿が完了しました",
			slog.String("queue_item_id", item.ID),
			slog.Int("shifted_count", shifted),
		)
	} else {
		result.Error = item.ErrorMessage
	}

	run.Succeed(ctx, fmt.Sprintf("posted=%t shifted=%d", result.Posted, result.ShiftedCount))

	return result, nil
}

// publishOne は1エントリを公開し、状態遷移とリトライポリシーを適用する。
// 成功時はtrueを返す。失敗の詳細はitem.ErrorMessageとresultに反映される。
func (e *Executor) publishOne(ctx context.Context, item *model.QueueItem, result *model.ProcessResult) bool {
	content, err := e.contentRepo.FindByID(ctx, item.ContentID)
	if err != nil {
		e.markFailed(ctx, item, fmt.Sprintf("素材の取得に失敗: %s", err), result)
		return false
	}
	if content == nil {
		e.markFailed(ctx, item, "参照先の素材が存在しません", result)
		return false
	}

	// 外部呼び出しは必ず有界タイムアウトの下で行う。
	// タイムアウトは失敗として扱い、リトライポリシーに委ねる。
	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	start := time.Now()
	pubResult, err := e.publisher.Publish(pubCtx, content, item.Account)
	cancel()
	e.collector.RecordPublishLatency(time.Since(start))

	if err != nil {
		e.markFailed(ctx, item, err.Error(), result)
		return false
	}
	if !pubResult.Success {
		e.markFailed(ctx, item, pubResult.ErrorMessage, result)
		return false
	}

	if err := e.queueSvc.UpdateStatus(ctx, item.ID, model.QueueStatusPosted, pubResult.ExternalPostID, ""); err != nil {
		e.logger.Error("posted遷移の適用に失敗しました",
			slog.String("queue_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	item.Status = model.QueueStatusPosted
	item.ExternalPostID = pubResult.ExternalPostID

	if err := e.contentRepo.RecordPosted(ctx, item.ContentID, time.Now()); err != nil {
		// 使用カウンタの更新失敗は投稿自体を失敗とはしない
		e.logger.Error("投稿記録の更新に失敗しました",
			slog.String("content_id", item.ContentID),
			slog.String("error", err.Error()),
		)
	}

	e.collector.RecordPostSuccess(item.Account)
	e.notifier.PostSucceeded(ctx, item, content)

	return true
}

// markFailed はエントリをfailedに遷移させ、リトライポリシーを適用する。
func (e *Executor) markFailed(ctx context.Context, item *model.QueueItem, reason string, result *model.ProcessResult) {
	e.logger.Error("ストーリー投稿に失敗しました",
		slog.String("queue_item_id", item.ID),
		slog.String("content_id", item.ContentID),
		slog.Int("retry_count", item.RetryCount),
		slog.String("reason", reason),
	)

	if err := e.queueSvc.UpdateStatus(ctx, item.ID, model.QueueStatusFailed, "", reason); err != nil {
		e.logger.Error("failed遷移の適用に失敗しました",
			slog.String("queue_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	item.Status = model.QueueStatusFailed
	item.ErrorMessage = reason

	e.collector.RecordPostFailure(item.Account, reason)

	var content *model.ContentItem
	if c, err := e.contentRepo.FindByID(ctx, item.ContentID); err == nil {
		content = c
	}
	e.notifier.PostFailed(ctx, item, content, reason)

	if CanRetry(item.RetryCount, e.cfg.RetryMax) {
		minutes := ComputeRetryMinutes(e.cfg.RetryBackoffMinutes, item.RetryCount)
		if err := e.queueSvc.ScheduleRetry(ctx, item.ID, minutes); err != nil {
			e.logger.Error("リトライの再スケジュールに失敗しました",
				slog.String("queue_item_id", item.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		result.RetriesScheduled++
		e.collector.RecordRetryScheduled()
	} else {
		// リトライ上限到達: failedのまま手動対応に委ねる
		result.RetryExhausted++
		e.collector.RecordRetryExhausted()
		e.logger.Warn("リトライ上限に到達しました。手動対応が必要です",
			slog.String("queue_item_id", item.ID),
			slog.Int("retry_count", item.RetryCount),
		)
	}
}
