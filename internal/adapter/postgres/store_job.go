package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/job"
)

const jobColumns = `id, tenant_id, quote_id, payment_id, event_id, status, attempts, last_error, created_at, updated_at`

// InsertJobIfAbsent relies on the (tenant_id, event_id) unique constraint:
// a conflicting insert returns no row and the existing job is loaded instead.
func (s *Store) InsertJobIfAbsent(ctx context.Context, j *job.Job) (*job.Job, bool, error) {
	created, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO execution_jobs (id, tenant_id, quote_id, payment_id, event_id, status, attempts, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, event_id) DO NOTHING
		 RETURNING `+jobColumns,
		j.ID, j.TenantID, j.QuoteID, j.PaymentID, j.EventID, j.Status, j.Attempts, j.LastError))
	if err == nil {
		return &created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert job for event %s: %w", j.EventID, err)
	}

	existing, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM execution_jobs WHERE tenant_id = $1 AND event_id = $2`,
		j.TenantID, j.EventID))
	if err != nil {
		return nil, false, notFoundWrap(err, "load job for event %s", j.EventID)
	}
	return &existing, false, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM execution_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get job %s", id)
	}
	return &j, nil
}

// ClaimJob takes a queued job, or a running one whose lease has expired.
// Finished jobs and jobs running under a live lease are returned unclaimed.
func (s *Store) ClaimJob(ctx context.Context, id string, lease time.Duration) (*job.Job, bool, error) {
	claimed, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE execution_jobs SET status = 'running', started_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		   AND (status IN ('queued', 'failed_enqueue')
		        OR (status = 'running' AND started_at < now() - make_interval(secs => $3)))
		 RETURNING `+jobColumns,
		id, tenantFromCtx(ctx), lease.Seconds()))
	if err == nil {
		return &claimed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("claim job %s: %w", id, err)
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_jobs SET status = 'succeeded', attempts = attempts + 1, last_error = '', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx))
	return execExpectOne(tag, err, "complete job %s", id)
}

func (s *Store) RecordJobFailure(ctx context.Context, id string, attempts int, lastErr string, status job.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_jobs SET status = $3, attempts = $4, last_error = $5, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx), status, attempts, lastErr)
	return execExpectOne(tag, err, "record failure of job %s", id)
}

// MarkJobFailedEnqueue never downgrades a job a worker has already picked up.
func (s *Store) MarkJobFailedEnqueue(ctx context.Context, id, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_jobs SET status = 'failed_enqueue', last_error = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('queued', 'failed_enqueue')`,
		id, tenantFromCtx(ctx), lastErr)
	if err != nil {
		return fmt.Errorf("mark job %s failed_enqueue: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already picked up; only the former is an error.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RequeueJob moves a failed or failed_enqueue job back to queued.
func (s *Store) RequeueJob(ctx context.Context, id string, resetAttempts bool) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE execution_jobs
		 SET status = 'queued', attempts = CASE WHEN $3 THEN 0 ELSE attempts END, last_error = '', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('failed', 'failed_enqueue')
		 RETURNING `+jobColumns,
		id, tenantFromCtx(ctx), resetAttempts))
	if err == nil {
		return &j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("requeue job %s: %w", id, err)
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("requeue job %s in status %s: %w", id, current.Status, domain.ErrConflict)
}

// ListJobs returns the newest jobs of the context tenant. An empty status
// lists all of them.
func (s *Store) ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM execution_jobs
		 WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY updated_at DESC LIMIT $3`,
		tenantFromCtx(ctx), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row scannable) (job.Job, error) {
	var j job.Job
	err := row.Scan(&j.ID, &j.TenantID, &j.QuoteID, &j.PaymentID, &j.EventID,
		&j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}
