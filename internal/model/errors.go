package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 操作者向けの原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, queue, schedule, system
	Action   string // 操作者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidMix         = "INVALID_MIX"
	ErrCodeInvalidMixRatio    = "INVALID_MIX_RATIO"
	ErrCodeInvalidMixSum      = "INVALID_MIX_SUM"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeQueueItemNotFound  = "QUEUE_ITEM_NOT_FOUND"
	ErrCodeContentNotFound    = "CONTENT_NOT_FOUND"
	ErrCodeInvalidScheduleArg = "INVALID_SCHEDULE_ARG"
	ErrCodeQueueLocked        = "QUEUE_LOCKED"
)

// NewInvalidMixError はミックス検証エラーを生成する。
func NewInvalidMixError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMix,
		Message:  fmt.Sprintf("カテゴリミックスが不正です: %s", reason),
		Category: "validation",
		Action:   "カテゴリ名と比率を確認してください。",
	}
}

// NewInvalidMixRatioError は比率が範囲外の場合のエラーを生成する。
func NewInvalidMixRatioError(category string, ratio float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMixRatio,
		Message:  fmt.Sprintf("カテゴリ %s の比率が範囲外です: %.4f", category, ratio),
		Category: "validation",
		Action:   "比率は0より大きく1以下で指定してください。",
	}
}

// NewInvalidMixSumError は比率合計が許容誤差を超える場合のエラーを生成する。
func NewInvalidMixSumError(sum float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMixSum,
		Message:  fmt.Sprintf("比率の合計が1.0になりません: %.4f", sum),
		Category: "validation",
		Action:   "全カテゴリの比率合計が1.0（誤差0.01以内）になるよう調整してください。",
	}
}

// NewInvalidTransitionError はキュー状態機械の不正遷移エラーを生成する。
func NewInvalidTransitionError(id string, from, to QueueStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("キューアイテム %s の状態遷移が不正です: %s → %s", id, from, to),
		Category: "queue",
		Action:   "現在の状態を確認してください。postedは終端状態です。",
	}
}

// NewQueueItemNotFoundError はキューアイテム未検出エラーを生成する。
func NewQueueItemNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeQueueItemNotFound,
		Message:  fmt.Sprintf("指定されたキューアイテムが見つかりません: %s", id),
		Category: "queue",
		Action:   "キューアイテムIDを確認してください。",
	}
}

// NewContentNotFoundError はコンテンツ未検出エラーを生成する。
func NewContentNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeContentNotFound,
		Message:  fmt.Sprintf("指定されたコンテンツが見つかりません: %s", id),
		Category: "schedule",
		Action:   "コンテンツIDを確認してください。",
	}
}

// NewInvalidScheduleArgError はスケジュール作成引数の検証エラーを生成する。
func NewInvalidScheduleArgError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScheduleArg,
		Message:  fmt.Sprintf("スケジュール作成の引数が不正です: %s", reason),
		Category: "validation",
		Action:   "daysとslots_per_dayは1以上の整数を指定してください。",
	}
}

// NewQueueLockedError はキューロックが取得できない場合のエラーを生成する。
func NewQueueLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueLocked,
		Message:  "投稿キューは他の操作によってロックされています。",
		Category: "queue",
		Action:   "実行中の投稿処理の完了を待ってから再度実行してください。",
	}
}
