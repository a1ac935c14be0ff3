package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
	"github.com/Strob0t/runtask-analyzer/internal/port/ledger"
)

// Fulfiller produces the task result for a verified event.
type Fulfiller interface {
	Fulfill(ctx context.Context, ev runtask.Event) (runtask.Result, error)
}

// Disposition says what the processor did with an envelope.
type Disposition string

const (
	DispositionIgnored   Disposition = "ignored"
	DispositionProbe     Disposition = "probe"
	DispositionDuplicate Disposition = "duplicate"
	DispositionReported  Disposition = "reported"
)

// ProcessResult describes one processed envelope.
type ProcessResult struct {
	Disposition Disposition
	Event       runtask.Event
	Result      runtask.Result
	Delivery    DeliveryResult
}

// RunTaskProcessor consumes forwarded envelopes: it verifies the event,
// fulfills it and reports exactly one task result per verified run stage.
type RunTaskProcessor struct {
	verifier   *RunTaskVerifier
	claims     ledger.Ledger
	fulfiller  Fulfiller
	dispatcher *CallbackDispatcher
	metrics    *cfotel.Metrics
}

// NewRunTaskProcessor creates a processor. A nil claims ledger disables
// duplicate suppression.
func NewRunTaskProcessor(verifier *RunTaskVerifier, claims ledger.Ledger, fulfiller Fulfiller, dispatcher *CallbackDispatcher, metrics *cfotel.Metrics) *RunTaskProcessor {
	if metrics == nil {
		metrics = cfotel.NopMetrics()
	}
	return &RunTaskProcessor{
		verifier:   verifier,
		claims:     claims,
		fulfiller:  fulfiller,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

// Handle adapts Process to eventbus.Handler. Undeliverable results are
// returned as errors so the bus can dead-letter the envelope.
func (p *RunTaskProcessor) Handle(ctx context.Context, env runtask.Envelope) error {
	res, err := p.Process(ctx, env)
	if err != nil {
		return err
	}
	if res.Disposition == DispositionReported && !res.Delivery.Delivered {
		return fmt.Errorf("task result for run %s not delivered: %w", res.Event.RunID, res.Delivery.Err)
	}
	return nil
}

// Process runs one envelope through the pipeline.
func (p *RunTaskProcessor) Process(ctx context.Context, env runtask.Envelope) (ProcessResult, error) {
	if !p.verifier.Applies(env.DetailType) {
		slog.DebugContext(ctx, "envelope ignored", "detail_type", env.DetailType, "event_id", env.ID)
		return ProcessResult{Disposition: DispositionIgnored}, nil
	}

	ev, err := runtask.ParseEvent(env.Detail)
	if err != nil {
		slog.ErrorContext(ctx, "run task event rejected", "event_id", env.ID, "error", err)
		return ProcessResult{}, err
	}
	ctx = logger.WithRunID(ctx, ev.RunID)
	out := ProcessResult{Event: ev}

	if ev.IsProbe() {
		slog.InfoContext(ctx, "run task address verification acknowledged")
		out.Disposition = DispositionProbe
		return out, nil
	}

	if p.claims != nil {
		first, err := p.claims.Claim(ctx, ev.ClaimKey())
		if err != nil {
			return out, fmt.Errorf("claim %s: %w", ev.ClaimKey(), err)
		}
		if !first {
			slog.WarnContext(ctx, "duplicate run task event dropped", "claim", ev.ClaimKey())
			out.Disposition = DispositionDuplicate
			return out, nil
		}
	}

	out.Disposition = DispositionReported
	out.Result = p.decide(ctx, ev)
	out.Delivery = p.dispatcher.Deliver(ctx, ev, out.Result)
	if len(out.Result.Outcomes) > 0 {
		p.dispatcher.Comment(ctx, ev, out.Result)
	}
	return out, nil
}

// decide picks the task result: verification failure, unsupported stage or
// the fulfillment result.
func (p *RunTaskProcessor) decide(ctx context.Context, ev runtask.Event) runtask.Result {
	if p.verifier.Verify(ctx, ev) == Unverified {
		p.metrics.RunsUnverified.Add(ctx, 1)
		return runtask.Result{Status: runtask.StatusFailed, Message: runtask.MsgVerificationFailed}
	}
	p.metrics.RunsVerified.Add(ctx, 1)

	if ev.Stage != runtask.StagePrePlan && ev.Stage != runtask.StagePostPlan {
		slog.WarnContext(ctx, "run task stage not implemented", "stage", ev.Stage)
		return runtask.Result{Status: runtask.StatusFailed, Message: runtask.MsgUnsupportedStage + string(ev.Stage)}
	}

	res, err := p.fulfill(ctx, ev)
	if err != nil {
		slog.ErrorContext(ctx, "fulfillment failed", "error", err)
		return runtask.Result{Status: runtask.StatusFailed, Message: runtask.MsgFulfillmentFailed}
	}
	return res
}

func (p *RunTaskProcessor) fulfill(ctx context.Context, ev runtask.Event) (res runtask.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "fulfillment panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("fulfillment panic: %v", r)
		}
	}()
	return p.fulfiller.Fulfill(ctx, ev)
}
