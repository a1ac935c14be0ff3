package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "runtask-analyzer"

// Metrics holds the run task analyzer instruments.
type Metrics struct {
	WebhooksReceived       metric.Int64Counter
	WebhooksRejected       metric.Int64Counter
	EventsForwarded        metric.Int64Counter
	RunsVerified           metric.Int64Counter
	RunsUnverified         metric.Int64Counter
	ToolCalls              metric.Int64Counter
	GuardrailInterventions metric.Int64Counter
	CallbacksDelivered     metric.Int64Counter
	CallbacksFailed        metric.Int64Counter
	FulfillDuration        metric.Float64Histogram
}

// NewMetrics creates all instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.WebhooksReceived, "runtask.webhooks.received", "Inbound run task webhooks"},
		{&m.WebhooksRejected, "runtask.webhooks.rejected", "Webhooks rejected by the signature gate"},
		{&m.EventsForwarded, "runtask.events.forwarded", "Events published to the bus"},
		{&m.RunsVerified, "runtask.runs.verified", "Events that passed allow-list verification"},
		{&m.RunsUnverified, "runtask.runs.unverified", "Events that failed allow-list verification"},
		{&m.ToolCalls, "runtask.toolcalls", "Tool executions requested by the model"},
		{&m.GuardrailInterventions, "runtask.guardrail.interventions", "Outcome bodies withheld by the guardrail"},
		{&m.CallbacksDelivered, "runtask.callbacks.delivered", "Task results accepted by HCP Terraform"},
		{&m.CallbacksFailed, "runtask.callbacks.failed", "Task results that could not be delivered"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	var err error
	m.FulfillDuration, err = meter.Float64Histogram("runtask.fulfill.duration_seconds",
		metric.WithDescription("Fulfillment duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return m, nil
}
