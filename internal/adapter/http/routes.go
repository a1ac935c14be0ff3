package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/middleware"
)

// RouterConfig selects the optional parts of the router.
type RouterConfig struct {
	ServiceName  string
	EventsAPIKey string
	// Limiter throttles the webhook route. Nil disables throttling.
	Limiter *middleware.RateLimiter
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// NewRouter builds the HTTP surface.
//
//	POST /runtask        run task webhook (signature verified in the service)
//	POST /v1/events      bus envelopes from an API destination (X-API-Key)
//	GET  /health         liveness
//	GET  /health/ready   readiness
//	     /mcp            MCP streamable HTTP transport
func NewRouter(h *Handlers, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.ServiceName))
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.HealthReady)

	webhook := r.With()
	if cfg.Limiter != nil {
		webhook = r.With(cfg.Limiter.Handler)
	}
	webhook.Post("/runtask", h.HandleRunTask)

	r.With(middleware.APIKey(cfg.EventsAPIKey)).Post("/v1/events", h.HandleEvents)

	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
	}
	return r
}
