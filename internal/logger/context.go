package logger

import (
	"context"
	"log/slog"
)

// Correlation ids carried on the context and attached to every record
// logged with that context.
type ctxKey int

const (
	requestIDKey ctxKey = iota
	planIDKey
	jobIDKey
)

var ctxAttrKeys = []struct {
	key  ctxKey
	attr string
}{
	{requestIDKey, "request_id"},
	{planIDKey, "plan_id"},
	{jobIDKey, "job_id"},
}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPlanID tags ctx with the plan being run or resumed.
func WithPlanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, planIDKey, id)
}

// WithJobID tags ctx with the execution job being processed.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, k := range ctxAttrKeys {
		if v, _ := ctx.Value(k.key).(string); v != "" {
			attrs = append(attrs, slog.String(k.attr, v))
		}
	}
	return attrs
}
