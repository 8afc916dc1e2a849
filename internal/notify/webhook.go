// Package notify は操作者チャネルへの投稿結果通知を提供する。
// 通知はfire-and-forgetであり、通知の失敗は投稿操作自体を失敗させない。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/security"
)

// Notifier は投稿結果通知のインターフェース。
type Notifier interface {
	// PostSucceeded は投稿成功を操作者チャネルに通知する。
	PostSucceeded(ctx context.Context, item *model.QueueItem, content *model.ContentItem)
	// PostFailed は投稿失敗を操作者チャネルに通知する。
	PostFailed(ctx context.Context, item *model.QueueItem, content *model.ContentItem, reason string)
}

// WebhookNotifier は操作者が設定したWebhook URLにJSONをPOSTする通知実装。
// URLは操作者入力であるため、SSRF防止クライアント経由で送信する。
// キャプションは通知メッセージに埋め込む前にサニタイズされる。
type WebhookNotifier struct {
	client     *http.Client
	sanitizer  security.CaptionSanitizerService
	logger     *slog.Logger
	webhookURL string
}

// NewWebhookNotifier はWebhookNotifierの新しいインスタンスを生成する。
// webhookURLの検証はguardで事前に行い、送信クライアントもguardから生成する。
func NewWebhookNotifier(
	guard security.SSRFGuardService,
	sanitizer security.CaptionSanitizerService,
	logger *slog.Logger,
	webhookURL string,
	timeout time.Duration,
) (*WebhookNotifier, error) {
	if err := guard.ValidateURL(webhookURL); err != nil {
		return nil, fmt.Errorf("通知Webhook URLの検証に失敗しました: %w", err)
	}

	return &WebhookNotifier{
		client:     guard.NewSafeClient(timeout),
		sanitizer:  sanitizer,
		logger:     logger,
		webhookURL: webhookURL,
	}, nil
}

// notification は通知ペイロード。
type notification struct {
	Event          string `json:"event"` // post_succeeded / post_failed
	QueueItemID    string `json:"queue_item_id"`
	ContentID      string `json:"content_id"`
	Account        string `json:"account"`
	Category       string `json:"category,omitempty"`
	Caption        string `json:"caption,omitempty"`
	ExternalPostID string `json:"external_post_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	RetryCount     int    `json:"retry_count"`
}

// PostSucceeded は投稿成功を操作者チャネルに通知する。
func (n *WebhookNotifier) PostSucceeded(ctx context.Context, item *model.QueueItem, content *model.ContentItem) {
	payload := notification{
		Event:          "post_succeeded",
		QueueItemID:    item.ID,
		ContentID:      item.ContentID,
		Account:        item.Account,
		ExternalPostID: item.ExternalPostID,
		RetryCount:     item.RetryCount,
	}
	if content != nil {
		payload.Category = content.Category
		payload.Caption = n.sanitizer.Sanitize(content.Caption)
	}
	n.send(ctx, payload)
}

// PostFailed は投稿失敗を操作者チャネルに通知する。
func (n *WebhookNotifier) PostFailed(ctx context.Context, item *model.QueueItem, content *model.ContentItem, reason string) {
	payload := notification{
		Event:       "post_failed",
		QueueItemID: item.ID,
		ContentID:   item.ContentID,
		Account:     item.Account,
		Reason:      reason,
		RetryCount:  item.RetryCount,
	}
	if content != nil {
		payload.Category = content.Category
		payload.Caption = n.sanitizer.Sanitize(content.Caption)
	}
	n.send(ctx, payload)
}

// send は通知を送信する。失敗はログに記録するのみで呼び出し元には伝播しない。
func (n *WebhookNotifier) send(ctx context.Context, payload notification) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("通知ペイロードの生成に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("通知リクエストの作成に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("通知の送信に失敗しました",
			slog.String("event", payload.Event),
			slog.String("queue_item_id", payload.QueueItemID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("通知Webhookがエラーステータスを返しました",
			slog.String("event", payload.Event),
			slog.Int("http_status", resp.StatusCode),
		)
	}
}

// NopNotifier は通知が無効化された環境向けの何もしない実装。
type NopNotifier struct{}

// PostSucceeded は何もしない。
func (NopNotifier) PostSucceeded(ctx context.Context, item *model.QueueItem, content *model.ContentItem) {
}

// PostFailed は何もしない。
func (NopNotifier) PostFailed(ctx context.Context, item *model.QueueItem, content *model.ContentItem, reason string) {
}

// compile-time interface checks
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = NopNotifier{}
)
