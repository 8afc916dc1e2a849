package model

import "time"

// QueueStatus は投稿キューエントリの状態を表す。
type QueueStatus string

const (
	// QueueStatusPending は投稿待ちの状態。
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusPosted は投稿成功の終端状態。
	QueueStatusPosted QueueStatus = "posted"
	// QueueStatusFailed は投稿失敗の状態。リトライ上限到達後は終端となる。
	QueueStatusFailed QueueStatus = "failed"
)

// QueueItem はスケジュール済み投稿の永続レコードを表す。
// status=postedの場合はExternalPostIDが必ず設定される。
// status=pendingかつRetryCount>0は失敗後に再armされたことを示す。
type QueueItem struct {
	ID             string
	ContentID      string
	Account        string
	ScheduledAt    time.Time
	Status         QueueStatus
	RetryCount     int
	ErrorMessage   string
	ExternalPostID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidTransition はキュー状態機械における遷移の妥当性を検証する。
//
//	pending → posted / failed
//	failed  → pending （リトライによる再arm）
//
// postedは終端状態であり、いかなる遷移も許可されない。
func ValidTransition(from, to QueueStatus) bool {
	switch from {
	case QueueStatusPending:
		return to == QueueStatusPosted || to == QueueStatusFailed
	case QueueStatusFailed:
		return to == QueueStatusPending
	default:
		return false
	}
}
