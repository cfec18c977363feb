// Package job defines the Execution Job: the durable record that makes a
// payment-triggered side effect run at most once per upstream event.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/concierge/internal/domain"
)

// ErrBrokerSubmissionFailed is returned when the job row exists but could not
// be handed to the broker. The caller should ask the upstream sender to retry.
var ErrBrokerSubmissionFailed = errors.New("broker submission failed")

// ErrRetriesExhausted marks a job that failed on its final attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Status represents the lifecycle state of an execution job.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusFailedEnqueue Status = "failed_enqueue"
)

// IsTerminal returns true for states the worker never leaves on its own.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var validStatuses = map[Status]bool{
	StatusQueued:        true,
	StatusRunning:       true,
	StatusSucceeded:     true,
	StatusFailed:        true,
	StatusFailedEnqueue: true,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid job status %q: %w", s, domain.ErrValidation)
	}
	return st, nil
}

// Job is one execution job. (TenantID, EventID) is unique across all jobs.
type Job struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	QuoteID   string    `json:"quote_id"`
	PaymentID string    `json:"payment_id"`
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnqueueRequest carries the upstream payment-confirmation event.
type EnqueueRequest struct {
	TenantID  string `json:"tenant_id"`
	QuoteID   string `json:"quote_id"`
	PaymentID string `json:"payment_id"`
	EventID   string `json:"event_id"`
}

// Validate checks that all identifiers are present.
func (r *EnqueueRequest) Validate() error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("tenant_id is required: %w", domain.ErrValidation)
	case r.QuoteID == "":
		return fmt.Errorf("quote_id is required: %w", domain.ErrValidation)
	case r.PaymentID == "":
		return fmt.Errorf("payment_id is required: %w", domain.ErrValidation)
	case r.EventID == "":
		return fmt.Errorf("event_id is required: %w", domain.ErrValidation)
	}
	return nil
}

// EnqueueResult reports the job id for an event. Duplicate is true when the
// event had been seen before and the existing job was returned.
type EnqueueResult struct {
	JobID     string `json:"job_id"`
	Status    Status `json:"status"`
	Duplicate bool   `json:"duplicate"`
}
