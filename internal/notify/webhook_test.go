package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/storycast/internal/model"
	"github.com/hitoshi/storycast/internal/security"
)

// --- モック ---

// permissiveGuard はテスト用のガード。httptestのループバックアドレスを許可する。
type permissiveGuard struct{}

func (permissiveGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
func (permissiveGuard) ValidateURL(rawURL string) error { return nil }

// rejectingGuard は全URLを拒否するガード。
type rejectingGuard struct{}

func (rejectingGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
func (rejectingGuard) ValidateURL(rawURL string) error {
	return errors.New("blocked")
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(rawHTML string) string { return rawHTML }

var (
	_ security.SSRFGuardService        = permissiveGuard{}
	_ security.CaptionSanitizerService = passthroughSanitizer{}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func queueItemFixture() *model.QueueItem {
	return &model.QueueItem{
		ID:             "q1",
		ContentID:      "c1",
		Account:        "primary",
		Status:         model.QueueStatusPosted,
		ExternalPostID: "ext-123",
	}
}

func contentFixture() *model.ContentItem {
	return &model.ContentItem{
		ID:       "c1",
		Category: "travel",
		Caption:  "<b>夕焼け</b><script>bad()</script>",
	}
}

// --- Webhook通知のテスト ---

func TestNewWebhookNotifier_RejectsUnsafeURL(t *testing.T) {
	_, err := NewWebhookNotifier(rejectingGuard{}, passthroughSanitizer{}, testLogger(),
		"http://169.254.169.254/hook", 5*time.Second)
	if err == nil {
		t.Error("危険なWebhook URLは構築時に拒否されるべき")
	}
}

func TestPostSucceeded_SendsPayload(t *testing.T) {
	var got map[string]any
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		close(done)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(permissiveGuard{}, passthroughSanitizer{}, testLogger(),
		server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	n.PostSucceeded(context.Background(), queueItemFixture(), contentFixture())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("通知が送信されなかった")
	}

	if got["event"] != "post_succeeded" {
		t.Errorf("event = %v, want post_succeeded", got["event"])
	}
	if got["queue_item_id"] != "q1" || got["external_post_id"] != "ext-123" {
		t.Errorf("ペイロード = %v", got)
	}
}

func TestPostFailed_IncludesReason(t *testing.T) {
	var got map[string]any
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		close(done)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(permissiveGuard{}, passthroughSanitizer{}, testLogger(),
		server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	item := queueItemFixture()
	item.Status = model.QueueStatusFailed
	n.PostFailed(context.Background(), item, contentFixture(), "upstream error")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("通知が送信されなかった")
	}

	if got["event"] != "post_failed" {
		t.Errorf("event = %v, want post_failed", got["event"])
	}
	if got["reason"] != "upstream error" {
		t.Errorf("reason = %v, want upstream error", got["reason"])
	}
}

func TestPostSucceeded_SanitizesCaption(t *testing.T) {
	var got map[string]any
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		close(done)
	}))
	defer server.Close()

	// 実際のサニタイザを使用してscriptタグが除去されることを確認する
	n, err := NewWebhookNotifier(permissiveGuard{}, security.NewCaptionSanitizer(), testLogger(),
		server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	n.PostSucceeded(context.Background(), queueItemFixture(), contentFixture())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("通知が送信されなかった")
	}

	caption, _ := got["caption"].(string)
	if caption == "" {
		t.Fatal("キャプションが含まれていない")
	}
	if strings.Contains(caption, "<script") {
		t.Errorf("キャプションのscriptタグが除去されていない: %q", caption)
	}
}

func TestSend_FailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 接続拒否させる

	n, err := NewWebhookNotifier(permissiveGuard{}, passthroughSanitizer{}, testLogger(),
		server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	// fire-and-forget: 送信失敗はパニックもエラーも起こさない
	n.PostSucceeded(context.Background(), queueItemFixture(), contentFixture())
	n.PostFailed(context.Background(), queueItemFixture(), nil, "boom")
}
