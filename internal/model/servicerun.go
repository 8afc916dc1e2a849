package model

import "time"

// ServiceRunStatus はサービス実行記録の状態を表す。
type ServiceRunStatus string

const (
	// ServiceRunStatusRunning は実行中。
	ServiceRunStatusRunning ServiceRunStatus = "running"
	// ServiceRunStatusSuccess は正常終了。
	ServiceRunStatusSuccess ServiceRunStatus = "success"
	// ServiceRunStatusFailed は異常終了。
	ServiceRunStatusFailed ServiceRunStatus = "failed"
)

// ServiceRun は追跡対象オペレーション1回分の監査記録を表す。
// 全コンポーネント共通の横断的インフラであり、ドメインエンティティではない。
// 操作開始時に作成され、ちょうど1回だけクローズされる。
type ServiceRun struct {
	ID           string
	Method       string
	Actor        string // 操作を起動したアクター（空の場合はシステム起動）
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMs   *int64
	Status       ServiceRunStatus
	Result       string
	ErrorMessage string
}
