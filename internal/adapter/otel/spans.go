package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentfleet"

// StartMessageSpan starts a span for one agent message exchange.
func StartMessageSpan(ctx context.Context, agentID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "message",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.kind", kind),
		),
	)
}

// StartRecoverySpan starts a span for an agent recovery attempt.
func StartRecoverySpan(ctx context.Context, agentID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recovery",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.Int("recovery.attempt", attempt),
		),
	)
}

// StartQuickQuerySpan starts a span for a one-shot query.
func StartQuickQuerySpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "quickquery",
		trace.WithAttributes(
			attribute.String("agent.kind", kind),
		),
	)
}
