package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "concierge"

// StartPlanSpan starts a span for running a fresh plan.
func StartPlanSpan(ctx context.Context, planID, tenantID, intent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan.run",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.String("tenant.id", tenantID),
			attribute.String("plan.intent", intent),
		),
	)
}

// StartResumeSpan starts a span for a confirmation decision.
func StartResumeSpan(ctx context.Context, actionID string, confirm bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan.resume",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.Bool("action.confirm", confirm),
		),
	)
}

// StartToolCallSpan starts a span for one tool invocation.
func StartToolCallSpan(ctx context.Context, tool, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.tool", tool),
			attribute.String("toolcall.provider", provider),
		),
	)
}

// StartJobSpan starts a span for one execution job delivery.
func StartJobSpan(ctx context.Context, jobID, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("tenant.id", tenantID),
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
