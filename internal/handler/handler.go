// Package handler содержит HTTP-обработчики API портала начисления баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-portal/internal/middleware"
	"github.com/mmeshcher/rewards-portal/internal/model"
)

// Service определяет контракт движка начисления баллов, используемый HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, displayName, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error
	DeleteUser(ctx context.Context, userID int64) (*model.DeletionSummary, error)

	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetHistory(ctx context.Context, userID int64) ([]model.PointTransaction, error)
	AdjustPoints(ctx context.Context, userID, delta int64, reason string) (*model.PointTransaction, error)
	Audit(ctx context.Context, userID int64) (*model.LedgerAudit, error)

	CreateTask(ctx context.Context, t model.Task) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	SetTaskEnabled(ctx context.Context, taskID int64, enabled bool) error
	TaskStatuses(ctx context.Context, userID int64) ([]model.TaskStatus, error)
	ClaimTask(ctx context.Context, userID, taskID int64) (*model.ClaimResult, error)
	ResetTaskCompletions(ctx context.Context, userID int64) (int64, error)

	Rate() model.ConversionRate
	MinWithdrawal(ctx context.Context) (int64, error)
	SetMinWithdrawal(ctx context.Context, points int64) error
	RequestWithdrawal(ctx context.Context, userID, points int64, methodID, details string) (*model.Withdrawal, error)
	ResolveWithdrawal(ctx context.Context, withdrawalID string, outcome model.WithdrawalStatus) (*model.Withdrawal, error)
	ListUserWithdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error)
	ListPaymentMethods(ctx context.Context, enabledOnly bool) ([]model.PaymentMethod, error)
	UpsertPaymentMethod(ctx context.Context, m model.PaymentMethod) (*model.PaymentMethod, error)

	ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// Handler реализует HTTP-обработчики API портала.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// rateLimiter может быть nil, тогда частота запросов не ограничивается.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    rateLimiter,
	}
}

type userCtxKey struct{}

// currentUser возвращает пользователя, загруженного requireActive.
func currentUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(*model.User)
	return u, ok
}

// requireActive загружает пользователя из сессии. Удалённые пользователи
// получают 401, заблокированные 403.
func (h *Handler) requireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		u, err := h.service.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				h.authMiddleware.ClearAuthCookie(w)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			h.writeError(w, err, "load session user", zap.Int64("userID", userID))
			return
		}
		if u.Status == model.UserStatusSuspended {
			http.Error(w, model.ErrAccountSuspended.Error(), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey{}, u)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(r.Context())
		if !ok || u.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError переводит ошибку движка в HTTP-статус. Неизвестные ошибки логируются.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrAccountSuspended):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, model.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v) == nil
}

func int64Param(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
