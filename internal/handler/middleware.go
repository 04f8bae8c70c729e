package handler

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAPIAuth checks the bearer key against the configured bcrypt hash.
// With no hash configured the API is open.
func (h *Handler) requireAPIAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Cfg.APIKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer API key")
			return
		}
		key := strings.TrimPrefix(authHeader, "Bearer ")
		if bcrypt.CompareHashAndPassword([]byte(h.Cfg.APIKeyHash), []byte(key)) != nil {
			renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) apiRateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Get(clientIP(r)).Allow() {
				renderJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashAPIKey returns the bcrypt hash to put in API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}
