package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "toolgate"

// StartExecuteSpan starts a span for one tool execution.
func StartExecuteSpan(ctx context.Context, tool, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("user.id", userID),
		),
	)
}

// StartEventSpan starts a span for processing one dequeued event.
func StartEventSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "event.process",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartDeductSpan starts a span for a credit pool debit.
func StartDeductSpan(ctx context.Context, userID string, amount int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "budget.deduct",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int64("credit.amount", amount),
		),
	)
}
