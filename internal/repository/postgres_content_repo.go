package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/storycast/internal/model"
)

// PostgresContentRepo はPostgreSQLを使用したコンテンツカタログリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

const contentColumns = `id, content_hash, category, caption, is_active, is_duplicate,
        times_posted, last_posted_at, created_at, updated_at`

// scanContentItem は1行をContentItemに読み取る。
func scanContentItem(scan func(dest ...any) error) (*model.ContentItem, error) {
	item := &model.ContentItem{}
	var lastPostedAt sql.NullTime

	if err := scan(
		&item.ID, &item.ContentHash, &item.Category, &item.Caption,
		&item.IsActive, &item.IsDuplicate,
		&item.TimesPosted, &lastPostedAt,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastPostedAt.Valid {
		t := lastPostedAt.Time
		item.LastPostedAt = &t
	}

	return item, nil
}

// FindByID は指定IDの素材を取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindByID(ctx context.Context, id string) (*model.ContentItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)

	item, err := scanContentItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	return item, nil
}

// FindEligible は指定カテゴリの投稿適格な素材を取得する。
// アクティブかつ重複フラグなし、excludeIDsに含まれず、
// 投稿キューにpendingで参照されていない素材を、
// 未投稿優先（last_posted_at IS NULL）・last_posted_at昇順で最大limit件返す。
func (r *PostgresContentRepo) FindEligible(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items c
		 WHERE c.category = $1
		   AND c.is_active
		   AND NOT c.is_duplicate
		   AND NOT (c.id = ANY($2::uuid[]))
		   AND NOT EXISTS (
		       SELECT 1 FROM post_queue q
		       WHERE q.content_id = c.id AND q.status = 'pending'
		   )
		 ORDER BY c.last_posted_at ASC NULLS FIRST, c.created_at ASC
		 LIMIT $3`,
		category, pq.Array(excludeIDs), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("適格素材の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("適格素材の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("適格素材の走査に失敗しました: %w", err)
	}

	return items, nil
}

// RecordPosted は投稿成功時に使用カウンタと最終投稿時刻を更新する。
func (r *PostgresContentRepo) RecordPosted(ctx context.Context, contentID string, postedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE content_items
		 SET times_posted = times_posted + 1, last_posted_at = $2, updated_at = now()
		 WHERE id = $1`,
		contentID, postedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿記録の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("投稿記録の更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewContentNotFoundError(contentID)
	}

	return nil
}

// FindDuplicatesByHash は指定ハッシュを持つ素材を全件返す。
func (r *PostgresContentRepo) FindDuplicatesByHash(ctx context.Context, hash string) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items WHERE content_hash = $1
		 ORDER BY created_at ASC`,
		hash,
	)
	if err != nil {
		return nil, fmt.Errorf("ハッシュによる素材検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ハッシュによる素材の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ハッシュによる素材の走査に失敗しました: %w", err)
	}

	return items, nil
}

// ListDuplicates は重複フラグが立っている素材を返す。
func (r *PostgresContentRepo) ListDuplicates(ctx context.Context) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items WHERE is_duplicate
		 ORDER BY content_hash, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("重複素材の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("重複素材の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("重複素材の走査に失敗しました: %w", err)
	}

	return items, nil
}

// ListCategories はアクティブな素材が存在するカテゴリの一覧を返す。
func (r *PostgresContentRepo) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM content_items
		 WHERE is_active AND NOT is_duplicate
		 ORDER BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}

	return categories, nil
}

// compile-time interface check
var _ ContentRepository = (*PostgresContentRepo)(nil)
