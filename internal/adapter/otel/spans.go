package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "runtask-analyzer"

// StartFulfillSpan starts the span covering one run task fulfillment.
func StartFulfillSpan(ctx context.Context, runID, stage, workspace string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "runtask.fulfill",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.stage", stage),
			attribute.String("workspace.name", workspace),
		),
	)
}

// StartPhaseSpan starts a span for one analysis phase.
func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "runtask.phase",
		trace.WithAttributes(attribute.String("phase", phase)),
	)
}

// StartToolCallSpan starts a span for a tool call within the analysis loop.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "runtask.toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartCallbackSpan starts a span for the task result PATCH.
func StartCallbackSpan(ctx context.Context, runID, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "runtask.callback",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("result.status", status),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
