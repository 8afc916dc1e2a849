package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// queueLockKey はキュー変更を直列化するアドバイザリロックのキー。
// 1デプロイメントにつきキューは1つという前提に基づく固定値。
const queueLockKey = 0x73746f7279 // "story"

// PostgresQueueRepo はPostgreSQLを使用した投稿キューリポジトリ。
type PostgresQueueRepo struct {
	db *sql.DB
}

// NewPostgresQueueRepo はPostgresQueueRepoを生成する。
func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

const queueColumns = `id, content_id, account, scheduled_at, status, retry_count,
        error_message, external_post_id, created_at, updated_at`

// scanQueueItem は1行をQueueItemに読み取る。
func scanQueueItem(scan func(dest ...any) error) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var errorMessage, externalPostID sql.NullString

	if err := scan(
		&item.ID, &item.ContentID, &item.Account, &item.ScheduledAt,
		&item.Status, &item.RetryCount,
		&errorMessage, &externalPostID,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.ErrorMessage = nullStringValue(errorMessage)
	item.ExternalPostID = nullStringValue(externalPostID)

	return item, nil
}

// Create はキューエントリを作成する。
func (r *PostgresQueueRepo) Create(ctx context.Context, item *model.QueueItem) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_queue (id, content_id, account, scheduled_at, status,
		                         retry_count, error_message, external_post_id,
		                         created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.ContentID, item.Account, item.ScheduledAt, item.Status,
		item.RetryCount, nullString(item.ErrorMessage), nullString(item.ExternalPostID),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("キューエントリの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindByID(ctx context.Context, id string) (*model.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM post_queue WHERE id = $1`, id)

	item, err := scanQueueItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キューエントリの取得に失敗しました: %w", err)
	}
	return item, nil
}

// ListPending はscheduled_at <= dueBeforeのpendingエントリをscheduled_at昇順で返す。
func (r *PostgresQueueRepo) ListPending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueColumns+`
		 FROM post_queue
		 WHERE status = 'pending' AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC`,
		dueBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿対象エントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// FindEarliestPending はscheduled_atが最も早いpendingエントリを返す。
// 予定時刻の到来は問わない。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindEarliestPending(ctx context.Context) (*model.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+`
		 FROM post_queue
		 WHERE status = 'pending'
		 ORDER BY scheduled_at ASC
		 LIMIT 1`,
	)

	item, err := scanQueueItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("先頭pendingエントリの取得に失敗しました: %w", err)
	}
	return item, nil
}

// ListByStatus は指定状態のエントリをscheduled_at昇順で返す。
// statusが空の場合は全件返す。
func (r *PostgresQueueRepo) ListByStatus(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if status == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+queueColumns+` FROM post_queue ORDER BY scheduled_at ASC`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+queueColumns+` FROM post_queue WHERE status = $1 ORDER BY scheduled_at ASC`,
			status)
	}
	if err != nil {
		return nil, fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// UpdateStatus は状態遷移を条件付きUPDATEで適用する。
// 現在の状態がfromでない場合は遷移せずfalseを返す（競合検出）。
func (r *PostgresQueueRepo) UpdateStatus(ctx context.Context, id string, from, to model.QueueStatus, externalPostID, errorMessage string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE post_queue
		 SET status = $3,
		     external_post_id = COALESCE($4, external_post_id),
		     error_message = $5,
		     updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to, nullString(externalPostID), nullString(errorMessage),
	)
	if err != nil {
		return false, fmt.Errorf("キュー状態の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("キュー状態の更新件数の取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// ScheduleRetry はfailedエントリをpendingに再armする。
// retry_countをインクリメントし、scheduled_atをnewTimeに設定する。
// 現在の状態がfailedでない場合はfalseを返す。
func (r *PostgresQueueRepo) ScheduleRetry(ctx context.Context, id string, newTime time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE post_queue
		 SET status = 'pending',
		     retry_count = retry_count + 1,
		     scheduled_at = $2,
		     updated_at = now()
		 WHERE id = $1 AND status = 'failed'`,
		id, newTime,
	)
	if err != nil {
		return false, fmt.Errorf("リトライの再スケジュールに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("リトライ更新件数の取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// ShiftPending は全pendingエントリのscheduled_atをshift分だけ前倒しする。
// 単一のUPDATE文で実行されるため、スナップショットは一貫しており
// 相対順序は保存される。戻り値は対象件数。
func (r *PostgresQueueRepo) ShiftPending(ctx context.Context, shift time.Duration) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE post_queue
		 SET scheduled_at = scheduled_at - make_interval(secs => $1),
		     updated_at = now()
		 WHERE status = 'pending'`,
		shift.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("pendingエントリの前倒しに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("前倒し件数の取得に失敗しました: %w", err)
	}

	return int(affected), nil
}

// Delete は指定IDのエントリを削除する（手動クリーンアップ用）。
func (r *PostgresQueueRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM post_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("キューエントリの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewQueueItemNotFoundError(id)
	}

	return nil
}

// LockQueue はキュー変更のためのアドバイザリロックを取得する。
// pg_try_advisory_lockを専用コネクション上で実行し、
// セッションが維持される限りロックを保持する。
// 取得できない場合は(nil, nil)を返す（非ブロッキング）。
// インプロセスのミューテックスではないため、ロック保持中に
// 外部ネットワーク呼び出しを跨いでも他goroutineを停滞させない。
func (r *PostgresQueueRepo) LockQueue(ctx context.Context) (UnlockFunc, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("ロック用コネクションの取得に失敗しました: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, queueLockKey,
	).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("キューロックの取得に失敗しました: %w", err)
	}

	if !acquired {
		conn.Close()
		return nil, nil
	}

	unlock := func() {
		// コネクション切断でもロックは解放されるが、プール返却前に明示的に解放する
		if _, err := conn.ExecContext(context.Background(),
			`SELECT pg_advisory_unlock($1)`, queueLockKey); err != nil {
			slog.Error("キューロックの解放に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		conn.Close()
	}

	return unlock, nil
}

// collectQueueItems は結果セットをQueueItemスライスに読み取る。
func collectQueueItems(rows *sql.Rows) ([]*model.QueueItem, error) {
	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("キューエントリの読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キューエントリの走査に失敗しました: %w", err)
	}

	return items, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ QueueRepository = (*PostgresQueueRepo)(nil)
