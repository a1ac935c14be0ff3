// Package middleware provides HTTP middleware shared by the inbound routes.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/Strob0t/runtask-analyzer/internal/logger"
)

const headerRequestID = "X-Request-ID"

// Incoming IDs are reused only when they look like IDs.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// RequestID stores the caller's X-Request-ID, or a new UUID, in the request
// context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
