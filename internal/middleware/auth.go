package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from API key checks.
var publicPaths = map[string]bool{
	"/health": true,
}

// APIKey returns middleware that validates the X-API-Key header against a
// bcrypt hash produced by `agentfleet admin hash-key`. When enabled is
// false every request passes through. WebSocket clients cannot set custom
// headers, so /ws also accepts the key as an api_key query parameter.
func APIKey(hash string, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" && r.URL.Path == "/ws" {
				key = r.URL.Query().Get("api_key")
			}
			if key == "" {
				unauthorized(w, "api key required")
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
