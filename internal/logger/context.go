package logger

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	runIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRunID returns a new context carrying the HCP Terraform run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID extracts the run ID from the context.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

var sensitiveHeaders = map[string]bool{
	"authorization":        true,
	"x-tfc-task-signature": true,
	"x-cf-sig":             true,
	"x-api-key":            true,
	"cookie":               true,
}

// RedactHeaders flattens h into a loggable map with credential headers masked.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		if sensitiveHeaders[key] {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = strings.Join(v, ",")
	}
	return out
}
