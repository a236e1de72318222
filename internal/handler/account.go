package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Balance     int64  `json:"balance"`
	CreatedAt   string `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
		Balance:     u.Balance,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

// Register обрабатывает регистрацию нового пользователя и сразу открывает сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		h.writeError(w, err, "register user")
		return
	}

	h.logger.Info("user registered", zap.Int64("userID", u.ID))
	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Login выполняет аутентификацию пользователя и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err, "login user")
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Logout закрывает сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserResponse(u))
}
