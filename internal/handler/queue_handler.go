package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storycast/internal/model"
)

// QueueServiceInterface はキューハンドラーが必要とするサービスインターフェース。
type QueueServiceInterface interface {
	// List は指定状態のエントリを返す。statusが空の場合は全件返す。
	List(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error)
	// Delete はキューエントリを削除する。
	Delete(ctx context.Context, id string) error
}

// PostExecutorInterface は投稿エグゼキュータのインターフェース。
type PostExecutorInterface interface {
	// ProcessPendingPosts は期限到来した全pendingエントリを処理する。
	ProcessPendingPosts(ctx context.Context, actor string) (*model.ProcessResult, error)
	// ForcePostNext は最先頭のpendingエントリを即時公開する。
	ForcePostNext(ctx context.Context, actor string) (*model.ForcePostResult, error)
}

// QueueHandler は投稿キュー管理のHTTPハンドラー。
type QueueHandler struct {
	service  QueueServiceInterface
	executor PostExecutorInterface
}

// NewQueueHandler はQueueHandlerを生成する。
func NewQueueHandler(service QueueServiceInterface, executor PostExecutorInterface) *QueueHandler {
	return &QueueHandler{
		service:  service,
		executor: executor,
	}
}

// queueItemResponse はキューエントリのAPIレスポンス。
type queueItemResponse struct {
	ID             string    `json:"id"`
	ContentID      string    `json:"content_id"`
	Account        string    `json:"account"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ExternalPostID string    `json:"external_post_id,omitempty"`
}

// ListQueue はキューエントリ一覧を取得する。
// GET /api/queue?status=pending|posted|failed
func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := model.QueueStatus(r.URL.Query().Get("status"))

	switch status {
	case "", model.QueueStatusPending, model.QueueStatusPosted, model.QueueStatusFailed:
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_STATUS",
			Message:  "不正なステータス値です: " + string(status),
			Category: "validation",
			Action:   "pending, posted, failedのいずれかを指定してください。",
		})
		return
	}

	items, err := h.service.List(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toQueueItemResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ProcessQueue は期限到来エントリの投稿処理を起動する。
// POST /api/queue/process
func (h *QueueHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := h.executor.ProcessPendingPosts(r.Context(), actorFromRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ForcePost は最先頭エントリの即時投稿を起動する。
// POST /api/queue/force-post
func (h *QueueHandler) ForcePost(w http.ResponseWriter, r *http.Request) {
	result, err := h.executor.ForcePostNext(r.Context(), actorFromRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DeleteQueueItem はキューエントリを削除する。
// DELETE /api/queue/:id
func (h *QueueHandler) DeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toQueueItemResponse はmodel.QueueItemからAPIレスポンスに変換する。
func toQueueItemResponse(item *model.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:             item.ID,
		ContentID:      item.ContentID,
		Account:        item.Account,
		ScheduledAt:    item.ScheduledAt,
		Status:         string(item.Status),
		RetryCount:     item.RetryCount,
		ErrorMessage:   item.ErrorMessage,
		ExternalPostID: item.ExternalPostID,
	}
}
