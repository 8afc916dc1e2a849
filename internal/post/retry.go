// Package post は投稿エグゼキュータを提供する。
// 期限到来エントリの一括処理、手動即時投稿、リトライポリシーを含む。
package post

// maxRetryMinutes はリトライ遅延の上限（24時間）。
const maxRetryMinutes = 24 * 60

// CanRetry はリトライ上限に達していないかを返す。
// retryCountは既に消費したリトライ回数、maxRetriesは設定上限。
func CanRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}

// ComputeRetryMinutes はリトライ遅延（分）を計算する。
// 基準値をリトライ回数に応じて2倍ずつ増加させ、上限で打ち切る。
// 例: base=30 → 30, 60, 120分。
func ComputeRetryMinutes(baseMinutes, retryCount int) int {
	delay := baseMinutes
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay > maxRetryMinutes {
			return maxRetryMinutes
		}
	}
	return delay
}
