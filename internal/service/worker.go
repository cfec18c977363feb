package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/adapter/ws"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/logger"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/broadcast"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// SettleTool is the commerce tool a paid quote is settled with.
const SettleTool = "settle_payment"

// JobWorker executes payment-triggered jobs delivered by the broker.
// Delivery is at-least-once; the job row decides whether anything runs.
type JobWorker struct {
	store   database.Store
	queue   messagequeue.Queue
	tools   toolExecutor
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	policy  job.RetryPolicy
	lease   time.Duration
	sem     *semaphore.Weighted
}

// NewJobWorker creates a worker.
func NewJobWorker(store database.Store, queue messagequeue.Queue, tools toolExecutor, hub broadcast.Broadcaster, cfg config.Worker) *JobWorker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &JobWorker{
		store: store,
		queue: queue,
		tools: tools,
		hub:   hub,
		policy: job.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.BaseBackoff,
			MaxBackoff:  cfg.MaxBackoff,
		},
		lease: cfg.Lease,
		sem:   semaphore.NewWeighted(concurrency),
	}
}

// SetMetrics attaches otel instruments.
func (w *JobWorker) SetMetrics(m *otel.Metrics) { w.metrics = m }

// Start subscribes to execution jobs. The returned function cancels the
// subscription.
func (w *JobWorker) Start(ctx context.Context) (func(), error) {
	cancel, err := w.queue.Subscribe(ctx, messagequeue.SubjectJobExecute, w.HandleMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectJobExecute, err)
	}
	slog.Info("job worker started", "subject", messagequeue.SubjectJobExecute)
	return cancel, nil
}

// HandleMessage maps the outcome of one delivery onto the broker's
// dispositions.
func (w *JobWorker) HandleMessage(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.ExecuteJobPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.JobID == "" {
		return messagequeue.Permanent(fmt.Errorf("invalid job payload: %w", errors.Join(err, domain.ErrValidation)))
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)

	out := w.Process(ctx, payload)
	switch out.Kind {
	case job.OutcomeSucceeded, job.OutcomeSkipped:
		return nil
	case job.OutcomeRetry:
		return messagequeue.Retry(out.Delay, out.Err)
	default:
		return messagequeue.Permanent(out.Err)
	}
}

// Process runs one delivery of a job and reports what should happen next.
func (w *JobWorker) Process(ctx context.Context, payload messagequeue.ExecuteJobPayload) (out job.Outcome) {
	ctx = middleware.WithTenantID(ctx, payload.TenantID)
	ctx = logger.WithJobID(ctx, payload.JobID)
	ctx, span := otel.StartJobSpan(ctx, payload.JobID, payload.TenantID)
	defer func() { otel.EndSpan(span, out.Err) }()

	j, claimed, err := w.store.ClaimJob(ctx, payload.JobID, w.lease)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		slog.Error("job not found", "job_id", payload.JobID, "tenant_id", payload.TenantID)
		return job.Outcome{Kind: job.OutcomeFailed, Err: err}
	case err != nil:
		return job.Outcome{Kind: job.OutcomeRetry, Delay: w.policy.Backoff(1), Err: err}
	}

	if !claimed {
		if j.Status.IsTerminal() {
			slog.Debug("job already finished, acknowledging", "job_id", j.ID, "status", j.Status)
			return job.Outcome{Kind: job.OutcomeSkipped}
		}
		// Another worker holds the lease; look again once it could have expired.
		return job.Outcome{Kind: job.OutcomeRetry, Delay: w.lease, Err: fmt.Errorf("job %s is running elsewhere", j.ID)}
	}

	execErr := w.settle(ctx, j)
	if execErr == nil {
		if err := w.store.CompleteJob(ctx, j.ID); err != nil {
			// Settlement is idempotent by job id, so running it again is safe.
			return job.Outcome{Kind: job.OutcomeRetry, Delay: w.policy.Backoff(1), Err: err}
		}
		j.Status = job.StatusSucceeded
		w.metrics.JobFinished(ctx, string(j.Status))
		w.publish(ctx, j)
		slog.Info("job succeeded", "job_id", j.ID, "tenant_id", j.TenantID, "attempts", j.Attempts+1)
		return job.Outcome{Kind: job.OutcomeSucceeded}
	}

	return w.fail(ctx, j, execErr)
}

// settle executes the deferred side effect and marks the quote paid.
func (w *JobWorker) settle(ctx context.Context, j *job.Job) error {
	q, err := w.store.GetQuote(ctx, j.QuoteID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return toolprovider.Permanent(SettleTool, err)
		}
		return err
	}

	if _, err := w.tools.Execute(ctx, toolprovider.Call{
		Tool: SettleTool,
		Args: map[string]any{
			"quote_id":    q.ID,
			"payment_id":  j.PaymentID,
			"plan_id":     q.PlanID,
			"step_index":  q.StepIndex,
			"total_cents": q.TotalCents,
			"currency":    q.Currency,
		},
		TenantID:       j.TenantID,
		IdempotencyKey: j.ID,
	}); err != nil {
		return err
	}
	return w.store.MarkQuotePaid(ctx, q.ID)
}

func (w *JobWorker) fail(ctx context.Context, j *job.Job, cause error) job.Outcome {
	attempts := j.Attempts + 1
	out := w.policy.AfterFailure(attempts, toolprovider.IsPermanent(cause), cause)

	status := job.StatusQueued
	if out.Kind == job.OutcomeFailed {
		status = job.StatusFailed
	}
	if err := w.store.RecordJobFailure(ctx, j.ID, attempts, cause.Error(), status); err != nil {
		slog.Error("record job failure", "job_id", j.ID, "error", err)
		return job.Outcome{Kind: job.OutcomeRetry, Delay: w.policy.Backoff(attempts), Err: errors.Join(cause, err)}
	}
	j.Attempts = attempts
	j.Status = status
	j.LastError = cause.Error()

	if out.Kind == job.OutcomeRetry {
		w.metrics.JobRetry(ctx)
		slog.Warn("job failed, retrying",
			"job_id", j.ID,
			"attempts", attempts,
			"delay", out.Delay,
			"error", cause,
		)
		return out
	}

	w.metrics.JobFinished(ctx, string(status))
	w.publish(ctx, j)
	slog.Error("job failed permanently, manual intervention required",
		"job_id", j.ID,
		"tenant_id", j.TenantID,
		"attempts", attempts,
		"error", cause,
	)
	w.announceFailure(ctx, j)
	return out
}

// announceFailure publishes jobs.failed for operators. Losing it is logged;
// the failed row stays queryable either way.
func (w *JobWorker) announceFailure(ctx context.Context, j *job.Job) {
	data, err := json.Marshal(messagequeue.JobFailedPayload{
		JobID:     j.ID,
		TenantID:  j.TenantID,
		QuoteID:   j.QuoteID,
		Attempts:  j.Attempts,
		LastError: j.LastError,
	})
	if err != nil {
		return
	}
	if err := w.queue.Publish(ctx, messagequeue.SubjectJobFailed, data); err != nil {
		slog.Warn("publish job failure", "job_id", j.ID, "error", err)
	}
}

func (w *JobWorker) publish(ctx context.Context, j *job.Job) {
	if w.hub == nil {
		return
	}
	w.hub.BroadcastEvent(ctx, ws.EventJobStatus, ws.JobStatusEvent{
		JobID:    j.ID,
		QuoteID:  j.QuoteID,
		Status:   string(j.Status),
		Attempts: j.Attempts,
	})
}
