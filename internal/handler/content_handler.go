package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// DuplicateLister は重複素材一覧取得のインターフェース。
// repository.ContentRepositoryを直接変更せず、最小限のインターフェースとして定義する。
type DuplicateLister interface {
	// ListDuplicates は重複フラグが立っている素材を返す。
	ListDuplicates(ctx context.Context) ([]*model.ContentItem, error)
}

// ContentHandler はコンテンツカタログ参照のHTTPハンドラー。
type ContentHandler struct {
	lister DuplicateLister
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(lister DuplicateLister) *ContentHandler {
	return &ContentHandler{lister: lister}
}

// contentItemResponse は素材のAPIレスポンス。
type contentItemResponse struct {
	ID           string     `json:"id"`
	ContentHash  string     `json:"content_hash"`
	Category     string     `json:"category"`
	Caption      string     `json:"caption,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsDuplicate  bool       `json:"is_duplicate"`
	TimesPosted  int        `json:"times_posted"`
	LastPostedAt *time.Time `json:"last_posted_at,omitempty"`
}

// ListDuplicates は重複フラグの立った素材一覧を取得する。
// GET /api/content/duplicates
func (h *ContentHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	items, err := h.lister.ListDuplicates(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]contentItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, contentItemResponse{
			ID:           item.ID,
			ContentHash:  item.ContentHash,
			Category:     item.Category,
			Caption:      item.Caption,
			IsActive:     item.IsActive,
			IsDuplicate:  item.IsDuplicate,
			TimesPosted:  item.TimesPosted,
			LastPostedAt: item.LastPostedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
