package model

// ScheduleResult はスケジュール作成の結果サマリー。
// 適格コンテンツ不足は Skipped / Error に反映され、Goのエラーとはしない。
type ScheduleResult struct {
	Scheduled  int            `json:"scheduled"`
	Skipped    int            `json:"skipped"`
	TotalSlots int            `json:"total_slots"`
	ByCategory map[string]int `json:"by_category"`
	Error      string         `json:"error,omitempty"`
}

// ProcessResult はProcessPendingPostsの結果サマリー。
// 個別アイテムの失敗はFailedに計上され、バッチ全体を中断しない。
type ProcessResult struct {
	Processed        int    `json:"processed"`
	Succeeded        int    `json:"succeeded"`
	Failed           int    `json:"failed"`
	RetriesScheduled int    `json:"retries_scheduled"`
	RetryExhausted   int    `json:"retry_exhausted"`
	Error            string `json:"error,omitempty"`
}

// ForcePostResult はForcePostNextの結果サマリー。
// ShiftedCountは前倒しされた残pendingアイテム数。
type ForcePostResult struct {
	Posted         bool   `json:"posted"`
	QueueItemID    string `json:"queue_item_id,omitempty"`
	ExternalPostID string `json:"external_post_id,omitempty"`
	ShiftedCount   int    `json:"shifted_count"`
	Error          string `json:"error,omitempty"`
}
