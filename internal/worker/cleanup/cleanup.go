// Package cleanup は実行履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過したservice_runsを日次バッチで削除する。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/storycast/internal/repository"
)

// CleanupJob は保持期間を超過した実行履歴の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	runRepo       repository.ServiceRunRepository
	logger        *slog.Logger
	RetentionDays int // 実行履歴の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(runRepo repository.ServiceRunRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		runRepo:       runRepo,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過した実行履歴を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.runRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("実行履歴クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return err
	}

	duration := time.Since(start)
	j.logger.Info("実行履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は24時間間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Int("retention_days", j.RetentionDays),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
