package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
)

// JobEnqueuer turns payment confirmations into execution jobs. The
// (tenant_id, event_id) uniqueness of the job table is the only
// deduplication it relies on.
type JobEnqueuer struct {
	store   database.Store
	queue   messagequeue.Queue
	metrics *otel.Metrics
}

// NewJobEnqueuer creates an enqueuer.
func NewJobEnqueuer(store database.Store, queue messagequeue.Queue) *JobEnqueuer {
	return &JobEnqueuer{store: store, queue: queue}
}

// SetMetrics attaches otel instruments.
func (e *JobEnqueuer) SetMetrics(m *otel.Metrics) { e.metrics = m }

// Enqueue records the event and submits the job to the broker. A repeated
// event returns the existing job with Duplicate set and creates nothing; a
// job that is still queued is submitted again under the same message id.
//
// When the broker rejects the submission the job row is kept as
// failed_enqueue and both the result and an error wrapping
// job.ErrBrokerSubmissionFailed are returned; redelivering the same event
// resubmits that job.
func (e *JobEnqueuer) Enqueue(ctx context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = middleware.WithTenantID(ctx, req.TenantID)

	if _, err := e.store.GetQuote(ctx, req.QuoteID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("quote %s: %w", req.QuoteID, domain.ErrNotFound)
		}
		return nil, err
	}

	stored, created, err := e.store.InsertJobIfAbsent(ctx, &job.Job{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		QuoteID:   req.QuoteID,
		PaymentID: req.PaymentID,
		EventID:   req.EventID,
		Status:    job.StatusQueued,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.JobEnqueued(ctx, !created)

	res := &job.EnqueueResult{JobID: stored.ID, Status: stored.Status, Duplicate: !created}
	if !created {
		if stored.QuoteID != req.QuoteID || stored.PaymentID != req.PaymentID {
			slog.Warn("duplicate payment event with different payload",
				"job_id", stored.ID,
				"event_id", req.EventID,
				"tenant_id", req.TenantID,
			)
		}
		switch stored.Status {
		case job.StatusQueued:
			// The first submission may never have reached the broker. The
			// job id is the message id, so the broker drops a repeat.
		case job.StatusFailedEnqueue:
			if stored, err = e.store.RequeueJob(ctx, stored.ID, false); err != nil {
				return nil, err
			}
			res.Status = stored.Status
		default:
			return res, nil
		}
	}

	if err := e.submit(ctx, stored, stored.ID); err != nil {
		res.Status = job.StatusFailedEnqueue
		return res, err
	}
	slog.Info("execution job submitted",
		"job_id", stored.ID,
		"tenant_id", stored.TenantID,
		"duplicate", res.Duplicate,
	)
	return res, nil
}

// Requeue moves a failed job back to queued with a fresh attempt budget and
// resubmits it.
func (e *JobEnqueuer) Requeue(ctx context.Context, id string) (*job.Job, error) {
	j, err := e.store.RequeueJob(ctx, id, true)
	if err != nil {
		return nil, err
	}
	// The original message id may still sit in the broker's dedup window.
	msgID := fmt.Sprintf("%s-requeue-%d", j.ID, j.UpdatedAt.UnixNano())
	if err := e.submit(ctx, j, msgID); err != nil {
		return nil, err
	}
	slog.Info("execution job requeued", "job_id", j.ID, "tenant_id", j.TenantID)
	return j, nil
}

func (e *JobEnqueuer) submit(ctx context.Context, j *job.Job, msgID string) error {
	data, err := json.Marshal(messagequeue.ExecuteJobPayload{
		JobID:    j.ID,
		TenantID: j.TenantID,
		QuoteID:  j.QuoteID,
	})
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	pubErr := e.queue.PublishMsg(ctx, messagequeue.SubjectJobExecute, msgID, data)
	if pubErr == nil {
		return nil
	}

	slog.Error("execution job submission failed", "job_id", j.ID, "error", pubErr)
	if err := e.store.MarkJobFailedEnqueue(ctx, j.ID, pubErr.Error()); err != nil {
		slog.Error("mark job failed_enqueue", "job_id", j.ID, "error", err)
	}
	return fmt.Errorf("job %s: %w: %w", j.ID, job.ErrBrokerSubmissionFailed, pubErr)
}
