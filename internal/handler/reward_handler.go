package handler

import (
	"context"
	"net/http"

	"github.com/paintedminds/paintedminds/internal/reward"
)

// RewardServiceInterface は報酬ハンドラーが必要とするサービスインターフェース。
type RewardServiceInterface interface {
	Get(ctx context.Context, userID string) (*reward.Summary, error)
}

// RewardHandler は連続記録と報酬のHTTPハンドラー。
type RewardHandler struct {
	service RewardServiceInterface
}

// NewRewardHandler はRewardHandlerを生成する。
func NewRewardHandler(service RewardServiceInterface) *RewardHandler {
	return &RewardHandler{service: service}
}

type streakResponse struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
	Total   int `json:"total"`
}

type rewardResponse struct {
	Key       string `json:"key"`
	Days      int    `json:"days"`
	Unlocked  bool   `json:"unlocked"`
	Remaining int    `json:"remaining"`
}

type rewardSummaryResponse struct {
	Streak       streakResponse   `json:"streak"`
	Rewards      []rewardResponse `json:"rewards"`
	EnteredToday bool             `json:"entered_today"`
}

// Get は連続記録と報酬の解放状況を返す。
// GET /api/rewards
func (h *RewardHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := rewardSummaryResponse{
		Streak: streakResponse{
			Current: summary.Streak.Current,
			Longest: summary.Streak.Longest,
			Total:   summary.Streak.Total,
		},
		Rewards:      make([]rewardResponse, len(summary.Rewards)),
		EnteredToday: summary.EnteredToday,
	}
	for i, rw := range summary.Rewards {
		resp.Rewards[i] = rewardResponse{Key: rw.Key, Days: rw.Days, Unlocked: rw.Unlocked, Remaining: rw.Remaining}
	}
	writeJSON(w, http.StatusOK, resp)
}
