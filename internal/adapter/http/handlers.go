package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/service"
)

// EnvelopeSink accepts pushed bus envelopes for background processing.
// Go reports false when no capacity is available.
type EnvelopeSink interface {
	Go(ctx context.Context, env runtask.Envelope) bool
}

// Handlers holds the services behind the inbound routes.
type Handlers struct {
	Ingress      *service.IngressService
	Envelopes    EnvelopeSink
	MaxBodyBytes int64
	// Ready reports dependency health for /health/ready. Nil means always ready.
	Ready func(ctx context.Context) error
}

// HandleRunTask receives the HCP Terraform run task webhook. The response
// body is plain text as HCP Terraform only inspects the status.
func (h *Handlers) HandleRunTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.MaxBodyBytes)
	if !ok {
		return
	}
	resp := h.Ingress.Handle(r.Context(), service.InboundWebhook{
		Body:    body,
		Headers: r.Header,
	})
	writeText(w, resp.Status, resp.Body)
}

type acceptedResponse struct {
	ID string `json:"id"`
}

// HandleEvents accepts envelopes pushed by an EventBridge API destination and
// processes them in the background.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	env, ok := readJSON[runtask.Envelope](w, r, h.MaxBodyBytes)
	if !ok {
		return
	}
	if len(env.Detail) == 0 || env.DetailType == "" {
		writeError(w, http.StatusBadRequest, "detail and detail-type are required")
		return
	}
	if !h.Envelopes.Go(r.Context(), env) {
		slog.WarnContext(r.Context(), "event destination saturated", "event_id", env.ID)
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "processing capacity exhausted")
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: env.ID})
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady is the readiness probe.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
