package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err, "list users")
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status model.UserStatus `json:"status"`
}

// SetUserStatus меняет статус учётной записи.
func (h *Handler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := int64Param(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetUserStatus(r.Context(), userID, req.Status); err != nil {
		h.writeError(w, err, "set user status", zap.Int64("userID", userID))
		return
	}

	h.logger.Info("user status changed", zap.Int64("userID", userID), zap.String("status", string(req.Status)))
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser удаляет пользователя и все его записи.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := int64Param(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if admin, ok := currentUser(r.Context()); ok && admin.ID == userID {
		http.Error(w, "cannot delete own account", http.StatusUnprocessableEntity)
		return
	}

	summary, err := h.service.DeleteUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "delete user", zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

type adjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustPoints вручную меняет баланс пользователя.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := int64Param(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.service.AdjustPoints(r.Context(), userID, req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, err, "adjust points", zap.Int64("userID", userID), zap.Int64("delta", req.Delta))
		return
	}
	h.writeJSON(w, http.StatusOK, toTransactionResponse(rec))
}

// AuditUser сверяет баланс пользователя с его историей.
func (h *Handler) AuditUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := int64Param(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	audit, err := h.service.Audit(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "audit user", zap.Int64("userID", userID))
		return
	}
	if !audit.Consistent {
		h.logger.Error("ledger mismatch",
			zap.Int64("userID", userID),
			zap.Int64("balance", audit.Balance),
			zap.Int64("historySum", audit.HistorySum),
		)
	}
	h.writeJSON(w, http.StatusOK, audit)
}

// ResetTaskCompletions сбрасывает окна заданий пользователя.
func (h *Handler) ResetTaskCompletions(w http.ResponseWriter, r *http.Request) {
	userID, ok := int64Param(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	n, err := h.service.ResetTaskCompletions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "reset task completions", zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type taskRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Points        int64   `json:"points"`
	RewardChoices []int64 `json:"reward_choices"`
	CooldownSec   int64   `json:"cooldown_seconds"`
	Enabled       *bool   `json:"enabled"`
}

type taskResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Points        int64   `json:"points,omitempty"`
	RewardChoices []int64 `json:"reward_choices,omitempty"`
	CooldownSec   int64   `json:"cooldown_seconds"`
	Enabled       bool    `json:"enabled"`
	CreatedAt     string  `json:"created_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		Points:        t.Points,
		RewardChoices: t.RewardChoices,
		CooldownSec:   int64(t.Cooldown / time.Second),
		Enabled:       t.Enabled,
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

// ListTasks возвращает все задания, включая выключенные.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ListTasks(r.Context())
	if err != nil {
		h.writeError(w, err, "list tasks")
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, toTaskResponse(&tasks[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateTask добавляет задание. Без поля enabled задание создаётся включённым.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	t, err := h.service.CreateTask(r.Context(), model.Task{
		Name:          req.Name,
		Description:   req.Description,
		Points:        req.Points,
		RewardChoices: req.RewardChoices,
		Cooldown:      time.Duration(req.CooldownSec) * time.Second,
		Enabled:       enabled,
	})
	if err != nil {
		h.writeError(w, err, "create task")
		return
	}
	h.writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTaskEnabled включает или выключает задание.
func (h *Handler) SetTaskEnabled(w http.ResponseWriter, r *http.Request) {
	taskID, ok := int64Param(r, "taskID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req enabledRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetTaskEnabled(r.Context(), taskID, req.Enabled); err != nil {
		h.writeError(w, err, "set task enabled", zap.Int64("taskID", taskID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWithdrawals возвращает заявки с фильтром по статусу из query-параметра status.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := model.WithdrawalStatus(r.URL.Query().Get("status"))

	list, err := h.service.ListWithdrawals(r.Context(), status)
	if err != nil {
		h.writeError(w, err, "list withdrawals")
		return
	}
	h.writeJSON(w, http.StatusOK, toWithdrawalsResponse(list))
}

type resolveRequest struct {
	Outcome model.WithdrawalStatus `json:"outcome"`
}

// ResolveWithdrawal завершает или отклоняет заявку на вывод.
func (h *Handler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "withdrawalID")

	var req resolveRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wd, err := h.service.ResolveWithdrawal(r.Context(), id, req.Outcome)
	if err != nil {
		h.writeError(w, err, "resolve withdrawal", zap.String("withdrawalID", id))
		return
	}

	h.logger.Info("withdrawal resolved", zap.String("withdrawalID", id), zap.String("status", string(wd.Status)))
	h.writeJSON(w, http.StatusOK, toWithdrawalResponse(wd))
}

type minWithdrawalBody struct {
	Points int64 `json:"points"`
}

// GetMinWithdrawal возвращает минимальную сумму вывода.
func (h *Handler) GetMinWithdrawal(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.MinWithdrawal(r.Context())
	if err != nil {
		h.writeError(w, err, "get min withdrawal")
		return
	}
	h.writeJSON(w, http.StatusOK, minWithdrawalBody{Points: points})
}

// SetMinWithdrawal изменяет минимальную сумму вывода.
func (h *Handler) SetMinWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req minWithdrawalBody
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetMinWithdrawal(r.Context(), req.Points); err != nil {
		h.writeError(w, err, "set min withdrawal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentMethodRequest struct {
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Enabled     bool   `json:"enabled"`
}

// ListAllPaymentMethods возвращает все способы выплаты, включая выключенные.
func (h *Handler) ListAllPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListPaymentMethods(r.Context(), false)
	if err != nil {
		h.writeError(w, err, "list payment methods")
		return
	}
	h.writeJSON(w, http.StatusOK, methods)
}

// UpsertPaymentMethod создаёт или обновляет способ выплаты.
func (h *Handler) UpsertPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	m, err := h.service.UpsertPaymentMethod(r.Context(), model.PaymentMethod{
		ID:          chi.URLParam(r, "methodID"),
		Label:       req.Label,
		Placeholder: req.Placeholder,
		Enabled:     req.Enabled,
	})
	if err != nil {
		h.writeError(w, err, "upsert payment method")
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}
