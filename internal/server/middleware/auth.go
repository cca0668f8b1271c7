package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware that requires every request to carry the configured
// API key, either as "Authorization: Bearer <key>" or in the X-API-Key
// header. An empty apiKey disables the check entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := requestKey(r)
			if presented == "" {
				denyRequest(w, "missing authentication token")
				return
			}
			// Constant-time compare so response timing leaks nothing.
			if subtle.ConstantTimeCompare([]byte(presented), key) != 1 {
				denyRequest(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestKey pulls the presented key out of the request headers. The Bearer
// scheme wins when both headers are set.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func denyRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
