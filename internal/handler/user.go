package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/service"
)

type balanceResponse struct {
	Balance        int64  `json:"balance"`
	CashEquivalent string `json:"cash_equivalent"`
	Currency       string `json:"currency"`
	RateVersion    int    `json:"rate_version"`
	MinWithdrawal  int64  `json:"min_withdrawal"`
	UnreadCount    int    `json:"unread_notifications"`
}

// GetBalance возвращает баланс текущего пользователя и его денежный эквивалент.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	balance, err := h.service.GetBalance(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "get balance", zap.Int64("userID", u.ID))
		return
	}
	minPoints, err := h.service.MinWithdrawal(r.Context())
	if err != nil {
		h.writeError(w, err, "get min withdrawal", zap.Int64("userID", u.ID))
		return
	}
	unread, err := h.service.UnreadCount(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "count notifications", zap.Int64("userID", u.ID))
		return
	}

	rate := h.service.Rate()
	h.writeJSON(w, http.StatusOK, balanceResponse{
		Balance:        balance,
		CashEquivalent: cashEquivalent(balance, rate),
		Currency:       rate.Currency,
		RateVersion:    rate.Version,
		MinWithdrawal:  minPoints,
		UnreadCount:    unread,
	})
}

type transactionResponse struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
	Delta     int64  `json:"delta"`
	CreatedAt string `json:"created_at"`
}

func toTransactionResponse(t *model.PointTransaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		Source:    t.Source,
		Reference: t.Reference,
		Delta:     t.Delta,
		CreatedAt: formatTime(t.CreatedAt),
	}
}

// GetHistory возвращает историю изменений баланса текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	history, err := h.service.GetHistory(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "get history", zap.Int64("userID", u.ID))
		return
	}

	if len(history) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(history))
	for i := range history {
		resp = append(resp, toTransactionResponse(&history[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type taskStatusResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Points        int64   `json:"points,omitempty"`
	RewardChoices []int64 `json:"reward_choices,omitempty"`
	CooldownSec   int64   `json:"cooldown_seconds"`
	Claimable     bool    `json:"claimable"`
	NextClaimAt   *string `json:"next_claim_at,omitempty"`
}

// GetTasks возвращает включённые задания и их доступность для текущего пользователя.
func (h *Handler) GetTasks(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	statuses, err := h.service.TaskStatuses(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "list task statuses", zap.Int64("userID", u.ID))
		return
	}

	resp := make([]taskStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, taskStatusResponse{
			ID:            st.Task.ID,
			Name:          st.Task.Name,
			Description:   st.Task.Description,
			Points:        st.Task.Points,
			RewardChoices: st.Task.RewardChoices,
			CooldownSec:   int64(st.Task.Cooldown.Seconds()),
			Claimable:     st.Claimable,
			NextClaimAt:   formatTimePtr(st.NextClaimAt),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type claimResponse struct {
	Awarded       bool                 `json:"awarded"`
	PointsAwarded int64                `json:"points_awarded"`
	NextClaimAt   string               `json:"next_claim_at"`
	Transaction   *transactionResponse `json:"transaction,omitempty"`
}

// ClaimTask начисляет награду за задание. Повторная попытка внутри окна
// возвращает 200 с awarded=false.
func (h *Handler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	taskID, ok := int64Param(r, "taskID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ClaimTask(r.Context(), u.ID, taskID)
	if err != nil {
		h.writeError(w, err, "claim task", zap.Int64("userID", u.ID), zap.Int64("taskID", taskID))
		return
	}

	resp := claimResponse{
		Awarded:       res.Awarded,
		PointsAwarded: res.PointsAwarded,
		NextClaimAt:   formatTime(res.NextClaimAt),
	}
	if res.Transaction != nil {
		tr := toTransactionResponse(res.Transaction)
		resp.Transaction = &tr
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type withdrawRequest struct {
	Points  int64  `json:"points"`
	Method  string `json:"method"`
	Details string `json:"details"`
}

type withdrawalResponse struct {
	ID          string  `json:"id"`
	UserID      int64   `json:"user_id"`
	Points      int64   `json:"points"`
	CashAmount  string  `json:"cash_amount"`
	Currency    string  `json:"currency"`
	RateVersion int     `json:"rate_version"`
	Method      string  `json:"method"`
	Details     string  `json:"details"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ResolvedAt  *string `json:"resolved_at,omitempty"`
}

func toWithdrawalResponse(wd *model.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:          wd.ID,
		UserID:      wd.UserID,
		Points:      wd.Points,
		CashAmount:  wd.CashAmount.StringFixed(2),
		Currency:    wd.Currency,
		RateVersion: wd.RateVersion,
		Method:      wd.Method,
		Details:     wd.Details,
		Status:      string(wd.Status),
		CreatedAt:   formatTime(wd.CreatedAt),
		ResolvedAt:  formatTimePtr(wd.ResolvedAt),
	}
}

func toWithdrawalsResponse(list []model.Withdrawal) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toWithdrawalResponse(&list[i]))
	}
	return resp
}

// Withdraw создаёт заявку на вывод баллов текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	var req withdrawRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), u.ID, req.Points, req.Method, req.Details)
	if err != nil {
		h.writeError(w, err, "request withdrawal", zap.Int64("userID", u.ID), zap.Int64("points", req.Points))
		return
	}

	h.writeJSON(w, http.StatusCreated, toWithdrawalResponse(wd))
}

// GetWithdrawals возвращает заявки текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	list, err := h.service.ListUserWithdrawals(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "list withdrawals", zap.Int64("userID", u.ID))
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, toWithdrawalsResponse(list))
}

type notificationResponse struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Read        bool   `json:"read"`
	CreatedAt   string `json:"created_at"`
}

// GetNotifications возвращает уведомления текущего пользователя.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	list, err := h.service.ListNotifications(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "list notifications", zap.Int64("userID", u.ID))
		return
	}

	resp := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		resp = append(resp, notificationResponse{
			ID:          n.ID,
			Type:        string(n.Type),
			Title:       n.Title,
			Description: n.Description,
			Read:        n.Read,
			CreatedAt:   formatTime(n.CreatedAt),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// MarkNotificationsRead помечает все уведомления текущего пользователя прочитанными.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	u, _ := currentUser(r.Context())

	n, err := h.service.MarkAllRead(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err, "mark notifications read", zap.Int64("userID", u.ID))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// GetPaymentMethods возвращает включённые способы выплаты.
func (h *Handler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListPaymentMethods(r.Context(), true)
	if err != nil {
		h.writeError(w, err, "list payment methods")
		return
	}
	h.writeJSON(w, http.StatusOK, methods)
}

func cashEquivalent(points int64, rate model.ConversionRate) string {
	if rate.PointsPerUnit <= 0 {
		return "0.00"
	}
	return service.CashEquivalent(points, rate).StringFixed(2)
}
