package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storycast/internal/metrics"
	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/servicerun"
)

// MixProvider は現行カテゴリミックスの取得インターフェース。
type MixProvider interface {
	CurrentMix(ctx context.Context) ([]model.CategoryMixEntry, error)
}

// Service はスケジュール作成を提供する。
// 1回の操作内でのみ状態を持ち、全ての永続状態はリポジトリが所有する。
type Service struct {
	contentRepo repository.ContentRepository
	queueRepo   repository.QueueRepository
	mixProvider MixProvider
	tracker     *servicerun.Tracker
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	layout      SlotLayout
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	contentRepo repository.ContentRepository,
	queueRepo repository.QueueRepository,
	mixProvider MixProvider,
	tracker *servicerun.Tracker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	layout SlotLayout,
) *Service {
	return &Service{
		contentRepo: contentRepo,
		queueRepo:   queueRepo,
		mixProvider: mixProvider,
		tracker:     tracker,
		collector:   collector,
		logger:      logger,
		layout:      layout,
	}
}

// assignment は1スロットへの素材割り当て。
type assignment struct {
	content *model.ContentItem
}

// CreateSchedule はdays日分×slotsPerDay個のスロットを作成し、素材を割り当てる。
// カテゴリ別目標数はミックス比率から最大剰余法で算出し、
// 素材は未投稿優先・最終投稿が古い順に選定する。
// 適格素材の不足はSkippedとして結果に計上され、Goのエラーとはしない。
// pendingキューに参照済みの素材は候補から除外されるため、
// 投稿を挟まず連続実行しても割り当ては重複しない。
func (s *Service) CreateSchedule(ctx context.Context, days, slotsPerDay int, account, actor string) (*model.ScheduleResult, error) {
	run := s.tracker.Begin(ctx, "schedule.CreateSchedule", actor)

	if days <= 0 {
		err := model.NewInvalidScheduleArgError(fmt.Sprintf("days=%d", days))
		run.Fail(ctx, err)
		return nil, err
	}
	if slotsPerDay <= 0 {
		err := model.NewInvalidScheduleArgError(fmt.Sprintf("slots_per_day=%d", slotsPerDay))
		run.Fail(ctx, err)
		return nil, err
	}

	totalSlots := days * slotsPerDay
	result := &model.ScheduleResult{
		TotalSlots: totalSlots,
		ByCategory: make(map[string]int),
	}

	entries, err := s.mixProvider.CurrentMix(ctx)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	if len(entries) == 0 {
		result.Error = "カテゴリミックスが未設定です"
		run.Succeed(ctx, result.Error)
		return result, nil
	}

	targets := ComputeTargets(entries, totalSlots)

	// カテゴリごとに適格素材を選定する。
	// excludeIDsには本実行で既に選定済みのIDを積み、同一素材の二重割り当てを防ぐ。
	selected := make(map[string][]*model.ContentItem, len(targets))
	var excludeIDs []string
	unfilled := 0

	for _, t := range targets {
		items, err := s.contentRepo.FindEligible(ctx, t.Category, excludeIDs, t.Target)
		if err != nil {
			run.Fail(ctx, err)
			return nil, err
		}

		selected[t.Category] = items
		for _, item := range items {
			excludeIDs = append(excludeIDs, item.ID)
		}

		if len(items) < t.Target {
			shortfall := t.Target - len(items)
			unfilled += shortfall
			s.logger.Warn("カテゴリの適格素材が不足しています",
				slog.String("category", t.Category),
				slog.Int("target", t.Target),
				slog.Int("found", len(items)),
			)
		}
	}

	// 不足分は目標数の大きいカテゴリから順に再配分する
	if unfilled > 0 {
		for _, t := range targets {
			if unfilled == 0 {
				break
			}
			extra, err := s.contentRepo.FindEligible(ctx, t.Category, excludeIDs, unfilled)
			if err != nil {
				run.Fail(ctx, err)
				return nil, err
			}
			for _, item := range extra {
				selected[t.Category] = append(selected[t.Category], item)
				excludeIDs = append(excludeIDs, item.ID)
				unfilled--
			}
		}
	}

	assignments := interleaveByCategory(targets, selected)

	if len(assignments) == 0 {
		result.Skipped = totalSlots
		result.Error = "適格なコンテンツが存在しません"
		run.Succeed(ctx, result.Error)
		return result, nil
	}

	slotTimes, err := s.layout.SlotTimes(time.Now(), days, slotsPerDay)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}

	now := time.Now()
	for i, a := range assignments {
		if i >= len(slotTimes) {
			break
		}
		item := &model.QueueItem{
			ID:          uuid.NewString(),
			ContentID:   a.content.ID,
			Account:     account,
			ScheduledAt: slotTimes[i],
			Status:      model.QueueStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.queueRepo.Create(ctx, item); err != nil {
			run.Fail(ctx, err)
			return nil, err
		}
		result.Scheduled++
		result.ByCategory[a.content.Category]++
	}

	result.Skipped = totalSlots - result.Scheduled
	s.collector.RecordScheduledSlots(result.Scheduled)
	s.collector.RecordSkippedSlots(result.Skipped)

	s.logger.Info("スケジュールを作成しました",
		slog.Int("scheduled", result.Scheduled),
		slog.Int("skipped", result.Skipped),
		slog.Int("total_slots", totalSlots),
		slog.String("account", account),
	)
	run.Succeed(ctx, fmt.Sprintf("scheduled=%d skipped=%d", result.Scheduled, result.Skipped))

	return result, nil
}

// interleaveByCategory は選定済み素材を時系列スロットに割り当てる順序を決める。
// 各スロットで残数が最も多いカテゴリから取り出すことで、
// スケジュール全体にカテゴリが分散するようにする。
func interleaveByCategory(targets []CategoryTarget, selected map[string][]*model.ContentItem) []assignment {
	remaining := make(map[string]int, len(targets))
	index := make(map[string]int, len(targets))
	total := 0
	for _, t := range targets {
		remaining[t.Category] = len(selected[t.Category])
		total += len(selected[t.Category])
	}

	assignments := make([]assignment, 0, total)
	for len(assignments) < total {
		// 残数最大のカテゴリを選ぶ（同数の場合は目標数の大きい順）
		best := ""
		for _, t := range targets {
			if remaining[t.Category] == 0 {
				continue
			}
			if best == "" || remaining[t.Category] > remaining[best] {
				best = t.Category
			}
		}
		if best == "" {
			break
		}

		assignments = append(assignments, assignment{content: selected[best][index[best]]})
		index[best]++
		remaining[best]--
	}

	return assignments
}
