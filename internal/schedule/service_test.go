package schedule

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/servicerun"
)

// --- モック ---

type mockContentRepo struct {
	findEligibleFn func(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error)
}

func (m *mockContentRepo) FindByID(ctx context.Context, id string) (*model.ContentItem, error) {
	return nil, nil
}
func (m *mockContentRepo) FindEligible(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
	return m.findEligibleFn(ctx, category, excludeIDs, limit)
}
func (m *mockContentRepo) RecordPosted(ctx context.Context, contentID string, postedAt time.Time) error {
	return nil
}
func (m *mockContentRepo) FindDuplicatesByHash(ctx context.Context, hash string) ([]*model.ContentItem, error) {
	return nil, nil
}
func (m *mockContentRepo) ListDuplicates(ctx context.Context) ([]*model.ContentItem, error) {
	return nil, nil
}
func (m *mockContentRepo) ListCategories(ctx context.Context) ([]string, error) {
	return nil, nil
}

type mockQueueRepo struct {
	created []*model.QueueItem
}

func (m *mockQueueRepo) Create(ctx context.Context, item *model.QueueItem) error {
	m.created = append(m.created, item)
	return nil
}
func (m *mockQueueRepo) FindByID(ctx context.Context, id string) (*model.QueueItem, error) {
	return nil, nil
}
func (m *mockQueueRepo) ListPending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
	return nil, nil
}
func (m *mockQueueRepo) FindEarliestPending(ctx context.Context) (*model.QueueItem, error) {
	return nil, nil
}
func (m *mockQueueRepo) ListByStatus(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error) {
	return nil, nil
}
func (m *mockQueueRepo) UpdateStatus(ctx context.Context, id string, from, to model.QueueStatus, externalPostID, errorMessage string) (bool, error) {
	return true, nil
}
func (m *mockQueueRepo) ScheduleRetry(ctx context.Context, id string, newTime time.Time) (bool, error) {
	return true, nil
}
func (m *mockQueueRepo) ShiftPending(ctx context.Context, shift time.Duration) (int, error) {
	return 0, nil
}
func (m *mockQueueRepo) Delete(ctx context.Context, id string) error {
	return nil
}
func (m *mockQueueRepo) LockQueue(ctx context.Context) (repository.UnlockFunc, error) {
	return func() {}, nil
}

type mockMixProvider struct {
	entries []model.CategoryMixEntry
}

func (m *mockMixProvider) CurrentMix(ctx context.Context) ([]model.CategoryMixEntry, error) {
	return m.entries, nil
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

func newTestService(contentRepo *mockContentRepo, queueRepo *mockQueueRepo, mix *mockMixProvider) *Service {
	log := testLogger()
	return NewService(
		contentRepo, queueRepo, mix,
		servicerun.NewTracker(&mockRunRepo{}, log),
		nopCollector{}, log,
		SlotLayout{WindowStart: "09:00", WindowEnd: "21:00"},
	)
}

func contentItem(id, category string) *model.ContentItem {
	return &model.ContentItem{
		ID:          id,
		ContentHash: "hash-" + id,
		Category:    category,
		IsActive:    true,
	}
}

// --- スケジュール作成のテスト ---

func TestCreateSchedule_FillsAllSlots(t *testing.T) {
	contentRepo := &mockContentRepo{
		findEligibleFn: func(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
			items := make([]*model.ContentItem, 0, limit)
			for i := 0; i < limit; i++ {
				items = append(items, contentItem(category+"-"+string(rune('a'+i)), category))
			}
			return items, nil
		},
	}
	queueRepo := &mockQueueRepo{}
	svc := newTestService(contentRepo, queueRepo, &mockMixProvider{
		entries: []model.CategoryMixEntry{
			{Category: "travel", Ratio: 0.6},
			{Category: "food", Ratio: 0.4},
		},
	})

	result, err := svc.CreateSchedule(context.Background(), 2, 5, "primary", "tester")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if result.Scheduled != 10 {
		t.Errorf("Scheduled = %d, want 10", result.Scheduled)
	}
	if result.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", result.Skipped)
	}
	if result.ByCategory["travel"] != 6 || result.ByCategory["food"] != 4 {
		t.Errorf("ByCategory = %v, want travel=6 food=4", result.ByCategory)
	}
	if len(queueRepo.created) != 10 {
		t.Errorf("作成されたキューエントリ数 = %d, want 10", len(queueRepo.created))
	}
	for _, item := range queueRepo.created {
		if item.Status != model.QueueStatusPending {
			t.Errorf("キューエントリの状態 = %s, want pending", item.Status)
		}
		if item.Account != "primary" {
			t.Errorf("アカウント = %s, want primary", item.Account)
		}
	}
}

func TestCreateSchedule_ShortfallCountedAsSkipped(t *testing.T) {
	// travelには素材が2件しかない（目標6）。再配分先のfoodも枯渇している。
	pool := map[string][]*model.ContentItem{
		"travel": {contentItem("t1", "travel"), contentItem("t2", "travel")},
		"food":   {contentItem("f1", "food"), contentItem("f2", "food"), contentItem("f3", "food"), contentItem("f4", "food")},
	}
	used := make(map[string]bool)
	contentRepo := &mockContentRepo{
		findEligibleFn: func(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
			var out []*model.ContentItem
			for _, item := range pool[category] {
				if used[item.ID] || len(out) >= limit {
					continue
				}
				out = append(out, item)
				used[item.ID] = true
			}
			return out, nil
		},
	}
	queueRepo := &mockQueueRepo{}
	svc := newTestService(contentRepo, queueRepo, &mockMixProvider{
		entries: []model.CategoryMixEntry{
			{Category: "travel", Ratio: 0.6},
			{Category: "food", Ratio: 0.4},
		},
	})

	result, err := svc.CreateSchedule(context.Background(), 2, 5, "primary", "tester")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if result.Scheduled != 6 {
		t.Errorf("Scheduled = %d, want 6", result.Scheduled)
	}
	if result.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", result.Skipped)
	}
	if result.Scheduled+result.Skipped != result.TotalSlots {
		t.Errorf("Scheduled+Skipped = %d, want TotalSlots=%d",
			result.Scheduled+result.Skipped, result.TotalSlots)
	}
}

func TestCreateSchedule_NoDuplicateAssignments(t *testing.T) {
	// 同一素材が複数カテゴリの候補に載っても、二重割り当てされないこと
	shared := contentItem("shared", "travel")
	contentRepo := &mockContentRepo{
		findEligibleFn: func(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
			for _, ex := range excludeIDs {
				if ex == shared.ID {
					return nil, nil
				}
			}
			return []*model.ContentItem{shared}, nil
		},
	}
	queueRepo := &mockQueueRepo{}
	svc := newTestService(contentRepo, queueRepo, &mockMixProvider{
		entries: []model.CategoryMixEntry{
			{Category: "travel", Ratio: 0.5},
			{Category: "food", Ratio: 0.5},
		},
	})

	_, err := svc.CreateSchedule(context.Background(), 1, 4, "primary", "tester")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if len(queueRepo.created) != 1 {
		t.Errorf("作成されたキューエントリ数 = %d, want 1", len(queueRepo.created))
	}
}

func TestCreateSchedule_EmptyMix(t *testing.T) {
	svc := newTestService(&mockContentRepo{}, &mockQueueRepo{}, &mockMixProvider{})

	result, err := svc.CreateSchedule(context.Background(), 1, 3, "primary", "tester")
	if err != nil {
		t.Fatalf("ミックス未設定はGoのエラーではなく結果のErrorで返すべき: %v", err)
	}
	if result.Error == "" {
		t.Error("ミックス未設定はresult.Errorに記録されるべき")
	}
	if result.Scheduled != 0 {
		t.Errorf("Scheduled = %d, want 0", result.Scheduled)
	}
}

func TestCreateSchedule_InvalidArgs(t *testing.T) {
	svc := newTestService(&mockContentRepo{}, &mockQueueRepo{}, &mockMixProvider{
		entries: []model.CategoryMixEntry{{Category: "travel", Ratio: 1.0}},
	})

	if _, err := svc.CreateSchedule(context.Background(), 0, 3, "primary", "tester"); err == nil {
		t.Error("days=0 はエラーを返すべき")
	}
	if _, err := svc.CreateSchedule(context.Background(), 1, -1, "primary", "tester"); err == nil {
		t.Error("slotsPerDay=-1 はエラーを返すべき")
	}
}

func TestCreateSchedule_SlotTimesAscending(t *testing.T) {
	seq := 0
	contentRepo := &mockContentRepo{
		findEligibleFn: func(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
			items := make([]*model.ContentItem, 0, limit)
			for i := 0; i < limit; i++ {
				seq++
				items = append(items, contentItem(category+string(rune('0'+seq)), category))
			}
			return items, nil
		},
	}
	queueRepo := &mockQueueRepo{}
	svc := newTestService(contentRepo, queueRepo, &mockMixProvider{
		entries: []model.CategoryMixEntry{{Category: "travel", Ratio: 1.0}},
	})

	_, err := svc.CreateSchedule(context.Background(), 2, 3, "primary", "tester")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	for i := 1; i < len(queueRepo.created); i++ {
		if !queueRepo.created[i].ScheduledAt.After(queueRepo.created[i-1].ScheduledAt) {
			t.Errorf("予定時刻が昇順でない: %v >= %v",
				queueRepo.created[i-1].ScheduledAt, queueRepo.created[i].ScheduledAt)
		}
	}
}
