// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 投稿エグゼキュータとスケジューラから利用する。
type MetricsCollector interface {
	RecordPostSuccess(account string)
	RecordPostFailure(account string, reason string)
	RecordRetryScheduled()
	RecordRetryExhausted()
	RecordForcePost()
	RecordPublishLatency(duration time.Duration)
	RecordScheduledSlots(count int)
	RecordSkippedSlots(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	postSuccess    *prometheus.CounterVec
	postFail       *prometheus.CounterVec
	retryScheduled prometheus.Counter
	retryExhausted prometheus.Counter
	forcePost      prometheus.Counter
	publishLatency prometheus.Histogram
	scheduledSlots prometheus.Counter
	skippedSlots   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storycast_post_success_total",
			Help: "ストーリー投稿成功の合計数",
		}, []string{"account"}),
		postFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storycast_post_fail_total",
			Help: "ストーリー投稿失敗の合計数",
		}, []string{"account"}),
		retryScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storycast_retry_scheduled_total",
			Help: "再スケジュールされたリトライの合計数",
		}),
		retryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storycast_retry_exhausted_total",
			Help: "リトライ上限に到達したキューアイテムの合計数",
		}),
		forcePost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storycast_force_post_total",
			Help: "手動即時投稿の合計数",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storycast_publish_latency_seconds",
			Help:    "外部公開APIの呼び出しレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		scheduledSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storycast_scheduled_slots_total",
			Help: "スケジュール作成で割り当てられたスロットの合計数",
		}),
		skippedSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storycast_skipped_slots_total",
			Help: "適格素材不足でスキップされたスロットの合計数",
		}),
	}

	reg.MustRegister(
		c.postSuccess,
		c.postFail,
		c.retryScheduled,
		c.retryExhausted,
		c.forcePost,
		c.publishLatency,
		c.scheduledSlots,
		c.skippedSlots,
	)

	return c
}

// RecordPostSuccess は投稿成功を記録する。
func (c *Collector) RecordPostSuccess(account string) {
	c.postSuccess.WithLabelValues(account).Inc()
}

// RecordPostFailure は投稿失敗を記録する。
func (c *Collector) RecordPostFailure(account string, reason string) {
	c.postFail.WithLabelValues(account).Inc()
}

// RecordRetryScheduled はリトライの再スケジュールを記録する。
func (c *Collector) RecordRetryScheduled() {
	c.retryScheduled.Inc()
}

// RecordRetryExhausted はリトライ上限到達を記録する。
func (c *Collector) RecordRetryExhausted() {
	c.retryExhausted.Inc()
}

// RecordForcePost は手動即時投稿を記録する。
func (c *Collector) RecordForcePost() {
	c.forcePost.Inc()
}

// RecordPublishLatency は公開API呼び出しのレイテンシを記録する。
func (c *Collector) RecordPublishLatency(duration time.Duration) {
	c.publishLatency.Observe(duration.Seconds())
}

// RecordScheduledSlots は割り当て済みスロット数を記録する。
func (c *Collector) RecordScheduledSlots(count int) {
	c.scheduledSlots.Add(float64(count))
}

// RecordSkippedSlots はスキップされたスロット数を記録する。
func (c *Collector) RecordSkippedSlots(count int) {
	c.skippedSlots.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
