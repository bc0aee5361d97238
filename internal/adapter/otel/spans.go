package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sentra"

// StartTaskSpan starts a span covering one task run.
func StartTaskSpan(ctx context.Context, taskID, goal string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.goal", goal),
		),
	)
}

// StartStepSpan starts a span for one plan step execution.
func StartStepSpan(ctx context.Context, taskID string, stepID int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("step.id", stepID),
		),
	)
}

// StartGuardSpan starts a span for a guard evaluation.
func StartGuardSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "guard."+kind)
}
