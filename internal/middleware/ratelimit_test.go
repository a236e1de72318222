package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, nil)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string, userID int64) int {
		r := httptest.NewRequest(http.MethodGet, "/api/user/tasks", nil)
		r.RemoteAddr = remote
		if userID != 0 {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	for i := range 2 {
		if code := do("10.0.0.1:5000", 0); code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want %d", i, code, http.StatusNoContent)
		}
	}
	if code := do("10.0.0.1:5001", 0); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", code, http.StatusTooManyRequests)
	}

	if code := do("10.0.0.2:5000", 0); code != http.StatusNoContent {
		t.Fatalf("other ip: status = %d, want %d", code, http.StatusNoContent)
	}
	if code := do("10.0.0.1:5000", 7); code != http.StatusNoContent {
		t.Fatalf("authenticated user: status = %d, want %d", code, http.StatusNoContent)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.10:4242"
	if got := clientKey(r); got != "ip:192.168.1.10" {
		t.Fatalf("clientKey = %q", got)
	}

	r = r.WithContext(WithUserID(r.Context(), 15))
	if got := clientKey(r); got != "user:15" {
		t.Fatalf("clientKey = %q", got)
	}
}
