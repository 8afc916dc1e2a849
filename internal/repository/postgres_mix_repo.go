package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storycast/internal/model"
)

// PostgresMixRepo はPostgreSQLを使用したカテゴリミックスリポジトリ。
type PostgresMixRepo struct {
	db *sql.DB
}

// NewPostgresMixRepo はPostgresMixRepoを生成する。
func NewPostgresMixRepo(db *sql.DB) *PostgresMixRepo {
	return &PostgresMixRepo{db: db}
}

// Current は現行ミックスバージョンを返す。未設定の場合はnilを返す。
func (r *PostgresMixRepo) Current(ctx context.Context) (*model.CategoryMixVersion, error) {
	version := &model.CategoryMixVersion{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM category_mix_versions
		 WHERE archived_at IS NULL`,
	).Scan(&version.ID, &version.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("現行ミックスの取得に失敗しました: %w", err)
	}

	entries, err := r.entriesByVersion(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	version.Entries = entries

	return version, nil
}

// Replace は現行バージョンをアーカイブし、新バージョンを原子的に登録する。
// version.IDが空の場合は新規IDを採番する。
func (r *PostgresMixRepo) Replace(ctx context.Context, version *model.CategoryMixVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE category_mix_versions SET archived_at = now() WHERE archived_at IS NULL`,
	); err != nil {
		return fmt.Errorf("現行ミックスのアーカイブに失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO category_mix_versions (id, created_at) VALUES ($1, $2)`,
		version.ID, version.CreatedAt,
	); err != nil {
		return fmt.Errorf("ミックスバージョンの作成に失敗しました: %w", err)
	}

	for _, e := range version.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_mix_entries (id, version_id, category, ratio)
			 VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), version.ID, e.Category, e.Ratio,
		); err != nil {
			return fmt.Errorf("ミックスエントリの作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ミックス更新のコミットに失敗しました: %w", err)
	}

	return nil
}

// History はアーカイブ済みバージョンを新しい順に最大limit件返す。
func (r *PostgresMixRepo) History(ctx context.Context, limit int) ([]*model.CategoryMixVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, archived_at FROM category_mix_versions
		 WHERE archived_at IS NOT NULL
		 ORDER BY archived_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ミックス履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var versions []*model.CategoryMixVersion
	for rows.Next() {
		v := &model.CategoryMixVersion{}
		var archivedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.CreatedAt, &archivedAt); err != nil {
			return nil, fmt.Errorf("ミックス履歴の読み取りに失敗しました: %w", err)
		}
		if archivedAt.Valid {
			t := archivedAt.Time
			v.ArchivedAt = &t
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ミックス履歴の走査に失敗しました: %w", err)
	}

	for _, v := range versions {
		entries, err := r.entriesByVersion(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		v.Entries = entries
	}

	return versions, nil
}

// entriesByVersion は指定バージョンのエントリを比率降順で取得する。
func (r *PostgresMixRepo) entriesByVersion(ctx context.Context, versionID string) ([]model.CategoryMixEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, ratio FROM category_mix_entries
		 WHERE version_id = $1
		 ORDER BY ratio DESC, category ASC`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ミックスエントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.CategoryMixEntry
	for rows.Next() {
		var e model.CategoryMixEntry
		if err := rows.Scan(&e.Category, &e.Ratio); err != nil {
			return nil, fmt.Errorf("ミックスエントリの読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ミックスエントリの走査に失敗しました: %w", err)
	}

	return entries, nil
}

// compile-time interface check
var _ MixRepository = (*PostgresMixRepo)(nil)
