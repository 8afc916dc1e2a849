// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// ContentRepository はコンテンツカタログへの問い合わせ面。
// カタログへの取り込みとハッシュ計算は外部コラボレータの責務であり、
// ここでは選定と使用履歴の更新のみを扱う。
type ContentRepository interface {
	// FindByID は指定IDの素材を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)

	// FindEligible は指定カテゴリの投稿適格な素材を取得する。
	// アクティブかつ重複フラグなし、excludeIDsに含まれず、
	// 投稿キューにpendingで参照されていない素材を、
	// 未投稿優先・last_posted_at昇順で最大limit件返す。
	FindEligible(ctx context.Context, category string, excludeIDs []string, limit int) ([]*model.ContentItem, error)

	// RecordPosted は投稿成功時に使用カウンタと最終投稿時刻を更新する。
	RecordPosted(ctx context.Context, contentID string, postedAt time.Time) error

	// FindDuplicatesByHash は指定ハッシュを持つ素材を全件返す。
	FindDuplicatesByHash(ctx context.Context, hash string) ([]*model.ContentItem, error)

	// ListDuplicates は重複フラグが立っている素材を返す。
	ListDuplicates(ctx context.Context) ([]*model.ContentItem, error)

	// ListCategories はアクティブな素材が存在するカテゴリの一覧を返す。
	ListCategories(ctx context.Context) ([]string, error)
}

// QueueRepository は投稿キューの永続化インターフェース。
// QueueItemレコードの所有者であり、状態遷移の原子性を保証する。
type QueueRepository interface {
	// Create はキューエントリを作成する。
	Create(ctx context.Context, item *model.QueueItem) error

	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.QueueItem, error)

	// ListPending はscheduled_at <= dueBeforeのpendingエントリを
	// scheduled_at昇順で返す。
	ListPending(ctx context.Context, dueBefore time.Time) ([]*model.QueueItem, error)

	// FindEarliestPending はscheduled_atが最も早いpendingエントリを返す。
	// 予定時刻の到来は問わない。見つからない場合はnilを返す。
	FindEarliestPending(ctx context.Context) (*model.QueueItem, error)

	// ListByStatus は指定状態のエントリをscheduled_at昇順で返す。
	// statusが空の場合は全件返す。
	ListByStatus(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error)

	// UpdateStatus は状態遷移を条件付きUPDATEで適用する。
	// 現在の状態がfromでない場合は遷移せずfalseを返す（競合検出）。
	UpdateStatus(ctx context.Context, id string, from, to model.QueueStatus, externalPostID, errorMessage string) (bool, error)

	// ScheduleRetry はfailedエントリをpendingに再armする。
	// retry_countをインクリメントし、scheduled_atをnewTimeに設定する。
	// 現在の状態がfailedでない場合はfalseを返す。
	ScheduleRetry(ctx context.Context, id string, newTime time.Time) (bool, error)

	// ShiftPending は全pendingエントリのscheduled_atをshift分だけ前倒しする。
	// 単一のUPDATE文で実行され、相対順序は保存される。戻り値は対象件数。
	ShiftPending(ctx context.Context, shift time.Duration) (int, error)

	// Delete は指定IDのエントリを削除する（手動クリーンアップ用）。
	Delete(ctx context.Context, id string) error

	// LockQueue はキュー変更のためのアドバイザリロックを取得する。
	// ロックは専用コネクション上で保持され、返却された解放関数の呼び出しで解放される。
	// ブロックせず、取得できない場合は(nil, nil)を返す。
	LockQueue(ctx context.Context) (UnlockFunc, error)
}

// UnlockFunc はLockQueueで取得したロックを解放する。
type UnlockFunc func()

// MixRepository はカテゴリミックスの永続化インターフェース。
type MixRepository interface {
	// Current は現行ミックスバージョンを返す。未設定の場合はnilを返す。
	Current(ctx context.Context) (*model.CategoryMixVersion, error)

	// Replace は現行バージョンをアーカイブし、新バージョンを原子的に登録する。
	Replace(ctx context.Context, version *model.CategoryMixVersion) error

	// History はアーカイブ済みバージョンを新しい順に最大limit件返す。
	History(ctx context.Context, limit int) ([]*model.CategoryMixVersion, error)
}

// ServiceRunRepository はサービス実行記録の永続化インターフェース。
type ServiceRunRepository interface {
	// Create は実行中の記録を作成する。
	Create(ctx context.Context, run *model.ServiceRun) error

	// Finish は記録をクローズする。finished_at、duration_ms、status、
	// result、error_messageを更新する。
	Finish(ctx context.Context, run *model.ServiceRun) error

	// DeleteOlderThan はstarted_atがcutoffより古い記録を削除し、件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
