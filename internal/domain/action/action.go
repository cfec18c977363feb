// Package action defines the Pending Action: the confirmation handle that
// binds one yes/no decision to exactly one WRITE step of a plan.
package action

import (
	"errors"
	"time"
)

// ErrUnknownOrExpiredAction is returned when an action id does not refer to
// a pending or previously decided action.
var ErrUnknownOrExpiredAction = errors.New("unknown or expired action")

// ErrActionInProgress is returned when an action was consumed by a
// concurrent caller whose outcome is not recorded yet.
var ErrActionInProgress = errors.New("action is being executed")

// State is the consumption state of a pending action.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
)

// DecisionState maps a confirm flag to the consumed state it produces.
func DecisionState(confirm bool) State {
	if confirm {
		return StateConfirmed
	}
	return StateRejected
}

// Outcome is the stored result of a decided action. Replays return it
// verbatim.
type Outcome struct {
	Status  string `json:"status"`
	Answer  string `json:"answer,omitempty"`
	Error   string `json:"error,omitempty"`
	Receipt string `json:"receipt,omitempty"`
}

// PendingAction maps an action id to a (plan, step) pair awaiting a decision.
type PendingAction struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	PlanID    string     `json:"plan_id"`
	StepIndex int        `json:"step_index"`
	State     State      `json:"state"`
	Outcome   *Outcome   `json:"outcome,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Consumed reports whether a decision has been taken.
func (a *PendingAction) Consumed() bool {
	return a.State != StatePending
}
