// Package mix はカテゴリミックス（カテゴリごとの配分比率）の管理機能を提供する。
// 比率の合計は常に1.0（誤差0.01以内）であり、更新のたびに新バージョンが作成される。
package mix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/repository"
	"github.com/hitoshi/storycast/internal/servicerun"
)

// Service はカテゴリミックスの取得・更新・履歴参照を提供する。
type Service struct {
	mixRepo     repository.MixRepository
	contentRepo repository.ContentRepository
	tracker     *servicerun.Tracker
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	mixRepo repository.MixRepository,
	contentRepo repository.ContentRepository,
	tracker *servicerun.Tracker,
	logger *slog.Logger,
) *Service {
	return &Service{
		mixRepo:     mixRepo,
		contentRepo: contentRepo,
		tracker:     tracker,
		logger:      logger,
	}
}

// CurrentMix は現行ミックスのエントリを比率降順で返す。
// ミックス未設定の場合は空スライスを返す。
func (s *Service) CurrentMix(ctx context.Context) ([]model.CategoryMixEntry, error) {
	version, err := s.mixRepo.Current(ctx)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return []model.CategoryMixEntry{}, nil
	}
	return version.Entries, nil
}

// SetMix はミックスを検証した上で原子的に差し替える。
// 検証失敗時は一切の変更を行わず*model.APIErrorを返し、
// 以前のミックスが現行のまま維持される。
func (s *Service) SetMix(ctx context.Context, entries []model.CategoryMixEntry, actor string) error {
	run := s.tracker.Begin(ctx, "mix.SetMix", actor)

	if err := model.ValidateMixEntries(entries); err != nil {
		run.Fail(ctx, err)
		return err
	}

	version := &model.CategoryMixVersion{
		ID:        uuid.NewString(),
		Entries:   entries,
		CreatedAt: time.Now(),
	}

	if err := s.mixRepo.Replace(ctx, version); err != nil {
		run.Fail(ctx, err)
		return err
	}

	s.logger.Info("カテゴリミックスを更新しました",
		slog.String("version_id", version.ID),
		slog.Int("entry_count", len(entries)),
	)
	run.Succeed(ctx, fmt.Sprintf("entries=%d", len(entries)))

	return nil
}

// History はアーカイブ済みミックスバージョンを新しい順に最大limit件返す。
// limitが0以下の場合はデフォルト値10を使用する。
func (s *Service) History(ctx context.Context, limit int) ([]*model.CategoryMixVersion, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.mixRepo.History(ctx, limit)
}

// CategoriesWithoutRatio はカタログに存在するがミックスに含まれないカテゴリを返す。
// 操作者がリバランスを検討するための情報であり、エラーではない。
func (s *Service) CategoriesWithoutRatio(ctx context.Context) ([]string, error) {
	categories, err := s.contentRepo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.CurrentMix(ctx)
	if err != nil {
		return nil, err
	}

	covered := make(map[string]bool, len(current))
	for _, e := range current {
		covered[e.Category] = true
	}

	var uncovered []string
	for _, c := range categories {
		if !covered[c] {
			uncovered = append(uncovered, c)
		}
	}

	return uncovered, nil
}
