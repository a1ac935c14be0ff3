package middleware

import (
	"crypto/subtle"
	"net/http"
)

// HeaderAPIKey carries the static key EventBridge API destinations send.
const HeaderAPIKey = "X-API-Key"

// APIKey rejects requests whose X-API-Key header does not equal key. The
// comparison is constant time. An empty key refuses every request so an
// unconfigured deployment fails closed.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, `{"error":"api key not configured"}`, http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get(HeaderAPIKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
