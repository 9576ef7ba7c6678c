// Package middleware provides HTTP middleware for agentfleet.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agentfleet/agentfleet/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID is HTTP middleware that propagates X-Request-ID from the
// request header, minting a UUID when the caller sent none. The ID is
// stored in the context and echoed on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
