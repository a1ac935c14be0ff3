package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
)

// Webhook response bodies.
const (
	BodyForwarded      = "Message forwarded to Amazon EventBridge"
	BodyFailedEntry    = "FailedEntry Error - The entry could not be succesfully forwarded to Amazon EventBridge"
	BodyPutEventsError = "Internal Server Error - The request was rejected by Amazon EventBridge API"
	BodyInternalError  = "Internal Server Error"
)

// IngressResponse is the status and plain-text body returned to HCP Terraform.
type IngressResponse struct {
	Status int
	Body   string
}

// IngressService authenticates a webhook and forwards it to the bus.
type IngressService struct {
	gate      *SignatureGate
	forwarder *EventForwarder
	metrics   *cfotel.Metrics
}

// NewIngressService composes the signature gate and the forwarder. A nil
// metrics records nothing.
func NewIngressService(gate *SignatureGate, forwarder *EventForwarder, metrics *cfotel.Metrics) *IngressService {
	if metrics == nil {
		metrics = cfotel.NopMetrics()
	}
	return &IngressService{gate: gate, forwarder: forwarder, metrics: metrics}
}

// Handle runs one webhook delivery through verification and forwarding.
func (s *IngressService) Handle(ctx context.Context, in InboundWebhook) IngressResponse {
	s.metrics.WebhooksReceived.Add(ctx, 1)

	payload, err := s.gate.Verify(ctx, in)
	if err != nil {
		rej, ok := AsRejection(err)
		if !ok {
			slog.ErrorContext(ctx, "webhook verification error", "error", err)
			return IngressResponse{Status: http.StatusInternalServerError, Body: BodyInternalError}
		}
		s.metrics.WebhooksRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(rej.Reason))))
		return IngressResponse{Status: rej.Status, Body: rej.Body()}
	}

	env, err := s.forwarder.Forward(ctx, payload.JSON)
	if err != nil {
		var pe *PutEventError
		if errors.As(err, &pe) && pe.FailedEntries > 0 {
			slog.ErrorContext(ctx, "event not forwarded", "event_id", env.ID, "failed_entries", pe.FailedEntries,
				"headers", logger.RedactHeaders(in.Headers))
			return IngressResponse{Status: http.StatusInternalServerError, Body: BodyFailedEntry}
		}
		slog.ErrorContext(ctx, "put events failed", "event_id", env.ID, "error", err,
			"headers", logger.RedactHeaders(in.Headers))
		return IngressResponse{Status: http.StatusInternalServerError, Body: BodyPutEventsError}
	}

	s.metrics.EventsForwarded.Add(ctx, 1)
	return IngressResponse{Status: http.StatusOK, Body: BodyForwarded}
}
