package post

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/publish"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/servicerun"
)

// --- モック ---

type mockQueueService struct {
	pendingFn       func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error)
	updateStatusFn  func(ctx context.Context, id string, status model.QueueStatus, externalPostID, errorMessage string) error
	scheduleRetryFn func(ctx context.Context, id string, retryMinutes int) error

	retriesScheduled []int
}

func (m *mockQueueService) Pending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
	if m.pendingFn != nil {
		return m.pendingFn(ctx, dueBefore)
	}
	return nil, nil
}
func (m *mockQueueService) UpdateStatus(ctx context.Context, id string, status model.QueueStatus, externalPostID, errorMessage string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, externalPostID, errorMessage)
	}
	return nil
}
func (m *mockQueueService) ScheduleRetry(ctx context.Context, id string, retryMinutes int) error {
	m.retriesScheduled = append(m.retriesScheduled, retryMinutes)
	if m.scheduleRetryFn != nil {
		return m.scheduleRetryFn(ctx, id, retryMinutes)
	}
	return nil
}

type mockLocker struct {
	lockHeld        bool // trueの場合ロック取得に失敗する
	earliestPending *model.QueueItem
	shiftedCount    int
	shiftCalls      []time.Duration
	unlocked        bool
}

func (m *mockLocker) LockQueue(ctx context.Context) (repository.UnlockFunc, error) {
	if m.lockHeld {
		return nil, nil
	}
	return func() { m.unlocked = true }, nil
}
func (m *mockLocker) FindEarliestPending(ctx context.Context) (*model.QueueItem, error) {
	return m.earliestPending, nil
}
func (m *mockLocker) ShiftPending(ctx context.Context, shift time.Duration) (int, error) {
	m.shiftCalls = append(m.shiftCalls, shift)
	return m.shiftedCount, nil
}

type mockContentProvider struct {
	items       map[string]*model.ContentItem
	recorded    []string
	recordErrFn func(contentID string) error
}

func (m *mockContentProvider) FindByID(ctx context.Context, id string) (*model.ContentItem, error) {
	return m.items[id], nil
}
func (m *mockContentProvider) RecordPosted(ctx context.Context, contentID string, postedAt time.Time) error {
	m.recorded = append(m.recorded, contentID)
	if m.recordErrFn != nil {
		return m.recordErrFn(contentID)
	}
	return nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error)
	calls     int
}

func (m *mockPublisher) Publish(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
	m.calls++
	return m.publishFn(ctx, content, account)
}

type mockNotifier struct {
	succeeded int
	failed    int
}

func (m *mockNotifier) PostSucceeded(ctx context.Context, item *model.QueueItem, content *model.ContentItem) {
	m.succeeded++
}
func (m *mockNotifier) PostFailed(ctx context.Context, item *model.QueueItem, content *model.ContentItem, reason string) {
	m.failed++
}

type mockRunRepo struct{}

func (m *mockRunRepo) Create(ctx context.Context, run *model.ServiceRun) error { return nil }
func (m *mockRunRepo) Finish(ctx context.Context, run *model.ServiceRun) error { return nil }
func (m *mockRunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type nopCollector struct{}

func (nopCollector) RecordPostSuccess(account string)                {}
func (nopCollector) RecordPostFailure(account string, reason string) {}
func (nopCollector) RecordRetryScheduled()                           {}
func (nopCollector) RecordRetryExhausted()                           {}
func (nopCollector) RecordForcePost()                                {}
func (nopCollector) RecordPublishLatency(duration time.Duration)     {}
func (nopCollector) RecordScheduledSlots(count int)                  {}
func (nopCollector) RecordSkippedSlots(count int)                    {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestExecutor(
	queueSvc *mockQueueService,
	locker *mockLocker,
	contentRepo *mockContentProvider,
	publisher *mockPublisher,
	notifier *mockNotifier,
) *Executor {
	log := testLogger()
	return NewExecutor(
		queueSvc, locker, contentRepo, publisher, notifier,
		servicerun.NewTracker(&mockRunRepo{}, log),
		nopCollector{}, log,
		Config{
			PublishTimeout:      5 * time.Second,
			RetryMax:            3,
			RetryBackoffMinutes: 30,
			ForceShiftMinutes:   60,
		},
	)
}

func dueItem(id, contentID string, retryCount int) *model.QueueItem {
	return &model.QueueItem{
		ID:          id,
		ContentID:   contentID,
		Account:     "primary",
		ScheduledAt: time.Now().Add(-time.Minute),
		Status:      model.QueueStatusPending,
		RetryCount:  retryCount,
	}
}

func contentFixture(id string) *model.ContentItem {
	return &model.ContentItem{
		ID:          id,
		ContentHash: "hash-" + id,
		Category:    "travel",
		Caption:     "caption",
		IsActive:    true,
	}
}

// --- 一括投稿処理のテスト ---

func TestProcessPendingPosts_AllSucceed(t *testing.T) {
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "c1", 0), dueItem("q2", "c2", 0)}, nil
		},
	}
	locker := &mockLocker{}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
		"c2": contentFixture("c2"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: true, ExternalPostID: "ext-" + content.ID}, nil
		},
	}
	notifier := &mockNotifier{}
	exec := newTestExecutor(queueSvc, locker, contentRepo, publisher, notifier)

	result, err := exec.ProcessPendingPosts(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}

	if result.Processed != 2 || result.Succeeded != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want processed=2 succeeded=2 failed=0", result)
	}
	if len(contentRepo.recorded) != 2 {
		t.Errorf("RecordPosted呼び出し数 = %d, want 2", len(contentRepo.recorded))
	}
	if notifier.succeeded != 2 {
		t.Errorf("成功通知数 = %d, want 2", notifier.succeeded)
	}
	if !locker.unlocked {
		t.Error("処理完了後にロックが解放されていない")
	}
}

func TestProcessPendingPosts_FailureDoesNotAbortBatch(t *testing.T) {
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "c1", 0), dueItem("q2", "c2", 0)}, nil
		},
	}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
		"c2": contentFixture("c2"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			if content.ID == "c1" {
				return &publish.Result{Success: false, ErrorMessage: "upstream error"}, nil
			}
			return &publish.Result{Success: true, ExternalPostID: "ext-c2"}, nil
		},
	}
	notifier := &mockNotifier{}
	exec := newTestExecutor(queueSvc, &mockLocker{}, contentRepo, publisher, notifier)

	result, err := exec.ProcessPendingPosts(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}

	if result.Processed != 2 || result.Succeeded != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want processed=2 succeeded=1 failed=1", result)
	}
	if result.RetriesScheduled != 1 {
		t.Errorf("RetriesScheduled = %d, want 1", result.RetriesScheduled)
	}
	if len(queueSvc.retriesScheduled) != 1 || queueSvc.retriesScheduled[0] != 30 {
		t.Errorf("リトライ遅延 = %v, want [30]", queueSvc.retriesScheduled)
	}
	if notifier.failed != 1 || notifier.succeeded != 1 {
		t.Errorf("通知数 = 成功%d/失敗%d, want 1/1", notifier.succeeded, notifier.failed)
	}
}

func TestProcessPendingPosts_RetryExhausted(t *testing.T) {
	// retry_countが上限に達したエントリは再armされずfailedのまま残る
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "c1", 3)}, nil
		},
	}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: false, ErrorMessage: "upstream error"}, nil
		},
	}
	exec := newTestExecutor(queueSvc, &mockLocker{}, contentRepo, publisher, &mockNotifier{})

	result, err := exec.ProcessPendingPosts(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}

	if result.RetryExhausted != 1 {
		t.Errorf("RetryExhausted = %d, want 1", result.RetryExhausted)
	}
	if len(queueSvc.retriesScheduled) != 0 {
		t.Errorf("上限到達後に再armされた: %v", queueSvc.retriesScheduled)
	}
}

func TestProcessPendingPosts_BackoffGrowsWithRetryCount(t *testing.T) {
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "c1", 2)}, nil
		},
	}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: false, ErrorMessage: "upstream error"}, nil
		},
	}
	exec := newTestExecutor(queueSvc, &mockLocker{}, contentRepo, publisher, &mockNotifier{})

	if _, err := exec.ProcessPendingPosts(context.Background(), "tester"); err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}

	// 3回目の失敗: 30 * 2^2 = 120分
	if len(queueSvc.retriesScheduled) != 1 || queueSvc.retriesScheduled[0] != 120 {
		t.Errorf("リトライ遅延 = %v, want [120]", queueSvc.retriesScheduled)
	}
}

func TestProcessPendingPosts_LockUnavailable(t *testing.T) {
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: true, ExternalPostID: "ext"}, nil
		},
	}
	exec := newTestExecutor(&mockQueueService{}, &mockLocker{lockHeld: true},
		&mockContentProvider{}, publisher, &mockNotifier{})

	result, err := exec.ProcessPendingPosts(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ロック取得失敗はGoのエラーではなく結果のErrorで返すべき: %v", err)
	}

	if result.Error == "" {
		t.Error("ロック取得失敗はresult.Errorに記録されるべき")
	}
	if publisher.calls != 0 {
		t.Errorf("ロック未取得で公開が実行された: %d回", publisher.calls)
	}
}

func TestProcessPendingPosts_MissingContentMarksFailed(t *testing.T) {
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "gone", 0)}, nil
		},
	}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: true, ExternalPostID: "ext"}, nil
		},
	}
	exec := newTestExecutor(queueSvc, &mockLocker{}, &mockContentProvider{}, publisher, &mockNotifier{})

	result, err := exec.ProcessPendingPosts(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if publisher.calls != 0 {
		t.Error("素材未検出時に公開が呼ばれた")
	}
}

func TestProcessPendingPosts_PublishContextHasDeadline(t *testing.T) {
	queueSvc := &mockQueueService{
		pendingFn: func(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
			return []*model.QueueItem{dueItem("q1", "c1", 0)}, nil
		},
	}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("公開呼び出しのコンテキストにタイムアウトが設定されていない")
			}
			return &publish.Result{Success: true, ExternalPostID: "ext"}, nil
		},
	}
	exec := newTestExecutor(queueSvc, &mockLocker{}, contentRepo, publisher, &mockNotifier{})

	if _, err := exec.ProcessPendingPosts(context.Background(), "tester"); err != nil {
		t.Fatalf("ProcessPendingPosts: %v", err)
	}
}

// --- 手動即時投稿のテスト ---

func TestForcePostNext_Success(t *testing.T) {
	locker := &mockLocker{
		earliestPending: dueItem("q1", "c1", 0),
		shiftedCount:    4,
	}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: true, ExternalPostID: "ext-c1"}, nil
		},
	}
	exec := newTestExecutor(&mockQueueService{}, locker, contentRepo, publisher, &mockNotifier{})

	result, err := exec.ForcePostNext(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ForcePostNext: %v", err)
	}

	if !result.Posted {
		t.Error("Posted = false, want true")
	}
	if result.ExternalPostID != "ext-c1" {
		t.Errorf("ExternalPostID = %s, want ext-c1", result.ExternalPostID)
	}
	if result.ShiftedCount != 4 {
		t.Errorf("ShiftedCount = %d, want 4", result.ShiftedCount)
	}
	if len(locker.shiftCalls) != 1 || locker.shiftCalls[0] != 60*time.Minute {
		t.Errorf("前倒し幅 = %v, want [1h]", locker.shiftCalls)
	}
}

func TestForcePostNext_EmptyQueue(t *testing.T) {
	exec := newTestExecutor(&mockQueueService{}, &mockLocker{}, &mockContentProvider{},
		&mockPublisher{publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return nil, errors.New("呼ばれてはならない")
		}}, &mockNotifier{})

	result, err := exec.ForcePostNext(context.Background(), "tester")
	if err != nil {
		t.Fatalf("空キューはGoのエラーではなく結果のErrorで返すべき: %v", err)
	}

	if result.Posted {
		t.Error("空キューでPosted = true")
	}
	if result.Error == "" {
		t.Error("空キューはresult.Errorに記録されるべき")
	}
}

func TestForcePostNext_FailureDoesNotShift(t *testing.T) {
	locker := &mockLocker{earliestPending: dueItem("q1", "c1", 0)}
	contentRepo := &mockContentProvider{items: map[string]*model.ContentItem{
		"c1": contentFixture("c1"),
	}}
	publisher := &mockPublisher{
		publishFn: func(ctx context.Context, content *model.ContentItem, account string) (*publish.Result, error) {
			return &publish.Result{Success: false, ErrorMessage: "upstream error"}, nil
		},
	}
	exec := newTestExecutor(&mockQueueService{}, locker, contentRepo, publisher, &mockNotifier{})

	result, err := exec.ForcePostNext(context.Background(), "tester")
	if err != nil {
		t.Fatalf("ForcePostNext: %v", err)
	}

	if result.Posted {
		t.Error("失敗時にPosted = true")
	}
	if result.Error == "" {
		t.Error("失敗理由がresult.Errorに記録されていない")
	}
	if len(locker.shiftCalls) != 0 {
		t.Error("投稿失敗時に前倒しが実行された")
	}
}
