// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/concierge/internal/domain/action"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// Halt is the atomic transition of a plan into needs_confirmation.
type Halt struct {
	PlanID string
	// Answer is the partial answer shown alongside the confirmation prompt.
	Answer string
	Quote  *quote.Quote // nil for unpriced WRITE steps
	Action *action.PendingAction
}

// ActionCompletion records the result of a decided action: the step, the
// plan and the stored outcome change together.
type ActionCompletion struct {
	ActionID    string
	PlanID      string
	StepIndex   int
	StepStatus  plan.StepStatus
	StepResult  string
	StepError   string
	PlanStatus  plan.Status
	PlanAnswer  string
	PlanError   string
	PlanContext map[string]any
	Outcome     action.Outcome
}

// PlanStore persists plans and their steps.
type PlanStore interface {
	// CreatePlan inserts the plan and all of its steps in one transaction.
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	UpdatePlanStatus(ctx context.Context, id string, status plan.Status, answer, errMsg string) error
	// SaveStepResult writes a step transition and the plan context together.
	SaveStepResult(ctx context.Context, planID string, step *plan.Step, planContext map[string]any) error
	// HaltForConfirmation stores the quote, the pending action and the
	// needs_confirmation status in one transaction.
	HaltForConfirmation(ctx context.Context, h Halt) error
}

// ActionStore persists pending actions.
type ActionStore interface {
	GetPendingAction(ctx context.Context, id string) (*action.PendingAction, error)
	// ConsumePendingAction moves a pending action to state. It returns false
	// when the action was already consumed by someone else.
	ConsumePendingAction(ctx context.Context, id string, state action.State) (bool, error)
	FinishAction(ctx context.Context, c ActionCompletion) error
}

// QuoteStore persists quotes.
type QuoteStore interface {
	GetQuote(ctx context.Context, id string) (*quote.Quote, error)
	MarkQuotePaid(ctx context.Context, id string) error
}

// JobStore persists execution jobs.
type JobStore interface {
	// InsertJobIfAbsent inserts j unless a job with the same (tenant_id,
	// event_id) exists. It returns the stored job and whether it was created.
	InsertJobIfAbsent(ctx context.Context, j *job.Job) (*job.Job, bool, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	// ClaimJob marks a job running unless it is finished or running under a
	// lease younger than lease. It returns the current row and whether the
	// caller now holds it.
	ClaimJob(ctx context.Context, id string, lease time.Duration) (*job.Job, bool, error)
	// CompleteJob marks a job succeeded and counts the successful attempt.
	CompleteJob(ctx context.Context, id string) error
	RecordJobFailure(ctx context.Context, id string, attempts int, lastErr string, status job.Status) error
	MarkJobFailedEnqueue(ctx context.Context, id, lastErr string) error
	// RequeueJob moves a failed or failed_enqueue job back to queued.
	RequeueJob(ctx context.Context, id string, resetAttempts bool) (*job.Job, error)
	ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error)
}

// BindingStore persists the tenant-scoped provider lookup table.
type BindingStore interface {
	GetTenantBindings(ctx context.Context, tenantID string) (map[toolprovider.Domain]string, error)
	SetTenantBinding(ctx context.Context, tenantID string, domain toolprovider.Domain, provider string) error
}

// Store is the port interface for database operations.
type Store interface {
	PlanStore
	ActionStore
	QuoteStore
	JobStore
	BindingStore
}
