package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/rewards-portal/internal/metrics"
	custommiddleware "github.com/mmeshcher/rewards-portal/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware портала.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(metrics.Instrument)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			h.limit(r)

			r.Post("/user/register", h.Register)
			r.Post("/user/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			h.limit(r)
			r.Use(h.requireActive)

			r.Post("/user/logout", h.Logout)
			r.Get("/user/me", h.Me)
			r.Get("/user/balance", h.GetBalance)
			r.Get("/user/history", h.GetHistory)

			r.Get("/user/tasks", h.GetTasks)
			r.Post("/user/tasks/{taskID}/claim", h.ClaimTask)

			r.Post("/user/withdrawals", h.Withdraw)
			r.Get("/user/withdrawals", h.GetWithdrawals)

			r.Get("/user/notifications", h.GetNotifications)
			r.Post("/user/notifications/read", h.MarkNotificationsRead)

			r.Get("/payment-methods", h.GetPaymentMethods)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)

				r.Get("/users", h.ListUsers)
				r.Put("/users/{userID}/status", h.SetUserStatus)
				r.Delete("/users/{userID}", h.DeleteUser)
				r.Post("/users/{userID}/adjust", h.AdjustPoints)
				r.Get("/users/{userID}/audit", h.AuditUser)
				r.Delete("/users/{userID}/task-completions", h.ResetTaskCompletions)

				r.Get("/tasks", h.ListTasks)
				r.Post("/tasks", h.CreateTask)
				r.Put("/tasks/{taskID}/enabled", h.SetTaskEnabled)

				r.Get("/withdrawals", h.ListWithdrawals)
				r.Post("/withdrawals/{withdrawalID}/resolve", h.ResolveWithdrawal)

				r.Get("/settings/min-withdrawal", h.GetMinWithdrawal)
				r.Put("/settings/min-withdrawal", h.SetMinWithdrawal)

				r.Get("/payment-methods", h.ListAllPaymentMethods)
				r.Put("/payment-methods/{methodID}", h.UpsertPaymentMethod)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func (h *Handler) limit(r chi.Router) {
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Handler)
	}
}
