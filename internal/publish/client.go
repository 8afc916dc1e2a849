// Package publish はストーリー公開APIのクライアントを提供する。
// トークンの取得・更新は外部の責務であり、ここでは設定済みトークンを使用するのみ。
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/storycast/internal/model"
)

// Publisher はストーリー公開のインターフェース。
// 投稿エグゼキュータから使用される。
type Publisher interface {
	// Publish は素材を指定アカウントのストーリーとして公開する。
	// 成功時は外部投稿IDを返す。失敗はResult.Successとエラーメッセージで表現され、
	// Goのエラーは通信・契約違反レベルの問題に限られる。
	Publish(ctx context.Context, content *model.ContentItem, account string) (*Result, error)
}

// Result は公開呼び出しの結果。
type Result struct {
	Success        bool
	ExternalPostID string
	ErrorMessage   string
}

// Config はClientの設定。
type Config struct {
	BaseURL       string
	Token         string
	RatePerMinute int // 1分あたりの公開呼び出し上限
}

// Client はストーリー公開APIのHTTPクライアント。
// レートリミッターで外部APIへの呼び出し頻度を制御する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	baseURL    string
	token      string
}

// NewClient はClientの新しいインスタンスを生成する。
// RatePerMinuteが0以下の場合はデフォルト値10を使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
	}
}

// publishRequest は公開APIリクエストのボディ。
type publishRequest struct {
	Account     string `json:"account"`
	ContentID   string `json:"content_id"`
	ContentHash string `json:"content_hash"`
	Caption     string `json:"caption,omitempty"`
}

// publishResponse は公開APIレスポンスのボディ。
type publishResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Publish は素材を指定アカウントのストーリーとして公開する。
// 呼び出し前にレートリミッターで待機する。コンテキストのタイムアウトは
// 待機と通信の両方に適用される。
func (c *Client) Publish(ctx context.Context, content *model.ContentItem, account string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レートリミッターの待機に失敗しました: %w", err)
	}

	start := time.Now()

	body, err := json.Marshal(publishRequest{
		Account:     account,
		ContentID:   content.ID,
		ContentHash: content.ContentHash,
		Caption:     content.Caption,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stories", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "Storycast/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("公開APIの呼び出しに失敗しました",
			slog.String("content_id", content.ID),
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		// タイムアウトを含む通信エラーは失敗結果として返し、リトライポリシーに委ねる
		return &Result{Success: false, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{Success: false, ErrorMessage: fmt.Sprintf("レスポンスの読み取りに失敗: %s", err)}, nil
	}

	var parsed publishResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil && resp.StatusCode < 300 {
		return &Result{Success: false, ErrorMessage: fmt.Sprintf("レスポンスJSONのパースに失敗: %s", err)}, nil
	}

	if resp.StatusCode >= 300 {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("公開APIがステータス %d を返しました", resp.StatusCode)
		}
		c.logger.Error("公開APIがエラーステータスを返しました",
			slog.String("content_id", content.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return &Result{Success: false, ErrorMessage: msg}, nil
	}

	if parsed.ID == "" {
		return &Result{Success: false, ErrorMessage: "公開APIが投稿IDを返しませんでした"}, nil
	}

	c.logger.Info("ストーリーを公開しました",
		slog.String("content_id", content.ID),
		slog.String("account", account),
		slog.String("external_post_id", parsed.ID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return &Result{Success: true, ExternalPostID: parsed.ID}, nil
}

// compile-time interface check
var _ Publisher = (*Client)(nil)
