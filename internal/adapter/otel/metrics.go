package otel

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "concierge"

// Metrics holds the concierge metric instruments. A nil *Metrics records
// nothing, so services can run without telemetry.
type Metrics struct {
	plansStarted    metric.Int64Counter
	plansFinished   metric.Int64Counter
	toolCalls       metric.Int64Counter
	confirmations   metric.Int64Counter
	jobsEnqueued    metric.Int64Counter
	jobsFinished    metric.Int64Counter
	jobRetries      metric.Int64Counter
	quoteTotalCents metric.Int64Histogram
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.plansStarted, err = meter.Int64Counter("concierge.plans.started",
		metric.WithDescription("Number of plans started")); err != nil {
		return nil, err
	}
	if m.plansFinished, err = meter.Int64Counter("concierge.plans.finished",
		metric.WithDescription("Number of plans reaching a terminal state")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("concierge.toolcalls",
		metric.WithDescription("Number of tool invocations")); err != nil {
		return nil, err
	}
	if m.confirmations, err = meter.Int64Counter("concierge.confirmations.requested",
		metric.WithDescription("Number of pending actions created")); err != nil {
		return nil, err
	}
	if m.jobsEnqueued, err = meter.Int64Counter("concierge.jobs.enqueued",
		metric.WithDescription("Number of payment events accepted")); err != nil {
		return nil, err
	}
	if m.jobsFinished, err = meter.Int64Counter("concierge.jobs.finished",
		metric.WithDescription("Number of execution jobs finished")); err != nil {
		return nil, err
	}
	if m.jobRetries, err = meter.Int64Counter("concierge.jobs.retries",
		metric.WithDescription("Number of execution job retries scheduled")); err != nil {
		return nil, err
	}
	if m.quoteTotalCents, err = meter.Int64Histogram("concierge.quote.total_cents",
		metric.WithDescription("Quote totals in minor currency units"),
		metric.WithUnit("{cent}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) PlanStarted(ctx context.Context, intent string) {
	if m == nil {
		return
	}
	m.plansStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

func (m *Metrics) PlanFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.plansFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) ToolCall(ctx context.Context, tool, risk string, ok bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("risk", risk),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) ConfirmationRequested(ctx context.Context) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1)
}

func (m *Metrics) QuoteComputed(ctx context.Context, totalCents int64, currency string) {
	if m == nil {
		return
	}
	m.quoteTotalCents.Record(ctx, totalCents, metric.WithAttributes(attribute.String("currency", currency)))
}

func (m *Metrics) JobEnqueued(ctx context.Context, duplicate bool) {
	if m == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("duplicate", strconv.FormatBool(duplicate))))
}

func (m *Metrics) JobFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) JobRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobRetries.Add(ctx, 1)
}
