package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// MixServiceInterface はミックスハンドラーが必要とするサービスインターフェース。
type MixServiceInterface interface {
	// CurrentMix は現行ミックスのエントリを返す。
	CurrentMix(ctx context.Context) ([]model.CategoryMixEntry, error)
	// SetMix はミックスを検証した上で原子的に差し替える。
	SetMix(ctx context.Context, entries []model.CategoryMixEntry, actor string) error
	// History はアーカイブ済みバージョンを新しい順に返す。
	History(ctx context.Context, limit int) ([]*model.CategoryMixVersion, error)
	// CategoriesWithoutRatio はミックスに含まれないカタログカテゴリを返す。
	CategoriesWithoutRatio(ctx context.Context) ([]string, error)
}

// MixHandler はカテゴリミックス管理のHTTPハンドラー。
type MixHandler struct {
	service MixServiceInterface
}

// NewMixHandler はMixHandlerを生成する。
func NewMixHandler(service MixServiceInterface) *MixHandler {
	return &MixHandler{service: service}
}

// mixEntryPayload はミックスエントリのリクエスト/レスポンス表現。
type mixEntryPayload struct {
	Category string  `json:"category"`
	Ratio    float64 `json:"ratio"`
}

// mixVersionResponse はミックスバージョンのAPIレスポンス。
type mixVersionResponse struct {
	ID         string            `json:"id"`
	Entries    []mixEntryPayload `json:"entries"`
	CreatedAt  time.Time         `json:"created_at"`
	ArchivedAt *time.Time        `json:"archived_at,omitempty"`
}

// GetMix は現行ミックスを取得する。
// GET /api/mix
func (h *MixHandler) GetMix(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.CurrentMix(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMixEntryPayloads(entries))
}

// PutMix はミックスを差し替える。
// PUT /api/mix
func (h *MixHandler) PutMix(w http.ResponseWriter, r *http.Request) {
	var payload []mixEntryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	entries := make([]model.CategoryMixEntry, 0, len(payload))
	for _, p := range payload {
		entries = append(entries, model.CategoryMixEntry{
			Category: p.Category,
			Ratio:    p.Ratio,
		})
	}

	if err := h.service.SetMix(r.Context(), entries, actorFromRequest(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMixEntryPayloads(entries))
}

// GetMixHistory はアーカイブ済みミックスバージョンを取得する。
// GET /api/mix/history?limit=10
func (h *MixHandler) GetMixHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitの値が不正です: " + raw,
				Category: "validation",
				Action:   "limitは1以上の整数を指定してください。",
			})
			return
		}
		limit = parsed
	}

	versions, err := h.service.History(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]mixVersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, mixVersionResponse{
			ID:         v.ID,
			Entries:    toMixEntryPayloads(v.Entries),
			CreatedAt:  v.CreatedAt,
			ArchivedAt: v.ArchivedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUncoveredCategories はミックスに含まれないカタログカテゴリを取得する。
// GET /api/mix/uncovered
func (h *MixHandler) GetUncoveredCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.CategoriesWithoutRatio(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// toMixEntryPayloads はモデルのエントリをAPI表現に変換する。
func toMixEntryPayloads(entries []model.CategoryMixEntry) []mixEntryPayload {
	out := make([]mixEntryPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, mixEntryPayload{Category: e.Category, Ratio: e.Ratio})
	}
	return out
}
