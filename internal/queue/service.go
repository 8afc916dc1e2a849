// Package queue は投稿キューの状態機械操作を提供する。
// 遷移の妥当性検証はここで行い、永続化の原子性はリポジトリが保証する。
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/repository"
)

// Service は投稿キューの操作を提供する。
type Service struct {
	queueRepo repository.QueueRepository
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(queueRepo repository.QueueRepository, logger *slog.Logger) *Service {
	return &Service{
		queueRepo: queueRepo,
		logger:    logger,
	}
}

// Create はpending状態のキューエントリを作成する。
func (s *Service) Create(ctx context.Context, contentID string, scheduledAt time.Time, account string) (*model.QueueItem, error) {
	now := time.Now()
	item := &model.QueueItem{
		ID:          uuid.NewString(),
		ContentID:   contentID,
		Account:     account,
		ScheduledAt: scheduledAt,
		Status:      model.QueueStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.queueRepo.Create(ctx, item); err != nil {
		return nil, err
	}

	return item, nil
}

// UpdateStatus は状態遷移を検証した上で適用する。
// 不正な遷移（postedからの遷移等）は*model.APIErrorで失敗する。
// 条件付きUPDATEにより、検証後に並行更新が割り込んだ場合も
// 不正遷移エラーとして検出される。
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.QueueStatus, externalPostID, errorMessage string) error {
	item, err := s.queueRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return model.NewQueueItemNotFoundError(id)
	}

	if !model.ValidTransition(item.Status, status) {
		return model.NewInvalidTransitionError(id, item.Status, status)
	}

	// posted遷移には外部投稿IDが必須
	if status == model.QueueStatusPosted && externalPostID == "" {
		return model.NewInvalidTransitionError(id, item.Status, status)
	}

	applied, err := s.queueRepo.UpdateStatus(ctx, id, item.Status, status, externalPostID, errorMessage)
	if err != nil {
		return err
	}
	if !applied {
		return model.NewInvalidTransitionError(id, item.Status, status)
	}

	return nil
}

// ScheduleRetry はfailedエントリをpendingに再armする。
// retry_countを1インクリメントし、scheduled_atを現在時刻+retryMinutes分に設定する。
// failed以外の状態に対しては不正遷移エラーを返す。
func (s *Service) ScheduleRetry(ctx context.Context, id string, retryMinutes int) error {
	item, err := s.queueRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return model.NewQueueItemNotFoundError(id)
	}

	if item.Status != model.QueueStatusFailed {
		return model.NewInvalidTransitionError(id, item.Status, model.QueueStatusPending)
	}

	newTime := time.Now().Add(time.Duration(retryMinutes) * time.Minute)
	applied, err := s.queueRepo.ScheduleRetry(ctx, id, newTime)
	if err != nil {
		return err
	}
	if !applied {
		return model.NewInvalidTransitionError(id, item.Status, model.QueueStatusPending)
	}

	s.logger.Info("リトライを再スケジュールしました",
		slog.String("queue_item_id", id),
		slog.Int("retry_count", item.RetryCount+1),
		slog.Time("scheduled_at", newTime),
	)

	return nil
}

// Pending はscheduled_at <= dueBeforeのpendingエントリをscheduled_at昇順で返す。
func (s *Service) Pending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
	return s.queueRepo.ListPending(ctx, dueBefore)
}

// List は指定状態のエントリを返す。statusが空の場合は全件返す。
func (s *Service) List(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error) {
	return s.queueRepo.ListByStatus(ctx, status)
}

// Delete はキューエントリを削除する（手動クリーンアップ用、通常のライフサイクル外）。
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.queueRepo.Delete(ctx, id)
}
