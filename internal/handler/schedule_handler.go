package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/storycast/internal/model"
)

// ScheduleServiceInterface はスケジュールハンドラーが必要とするサービスインターフェース。
type ScheduleServiceInterface interface {
	// CreateSchedule は指定期間のスロットを作成し、素材を割り当てる。
	CreateSchedule(ctx context.Context, days, slotsPerDay int, account, actor string) (*model.ScheduleResult, error)
}

// ScheduleHandler はスケジュール作成のHTTPハンドラー。
type ScheduleHandler struct {
	service        ScheduleServiceInterface
	defaultAccount string
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(service ScheduleServiceInterface, defaultAccount string) *ScheduleHandler {
	return &ScheduleHandler{
		service:        service,
		defaultAccount: defaultAccount,
	}
}

// createScheduleRequest はスケジュール作成リクエストのボディ。
type createScheduleRequest struct {
	Days        int    `json:"days"`
	SlotsPerDay int    `json:"slots_per_day"`
	Account     string `json:"account,omitempty"`
}

// CreateSchedule はスケジュール作成を処理する。
// POST /api/schedule
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	account := req.Account
	if account == "" {
		account = h.defaultAccount
	}

	result, err := h.service.CreateSchedule(r.Context(), req.Days, req.SlotsPerDay, account, actorFromRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}
