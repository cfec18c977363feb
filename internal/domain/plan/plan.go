// Package plan defines the Plan domain entity: an ordered sequence of tool
// invocations derived from one recognized user intent.
package plan

import "time"

// Audience identifies who the assistant is acting for.
type Audience string

const (
	AudienceGuest Audience = "guest"
	AudienceStaff Audience = "staff"
)

// Mode controls whether WRITE steps may ever be executed.
type Mode string

const (
	ModeCommit Mode = "commit"
	ModeDryRun Mode = "dry_run"
)

// Status represents the lifecycle state of a plan.
type Status string

const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepType is the kind of work a step performs.
type StepType string

// StepTypeTool is currently the only step type.
const StepTypeTool StepType = "TOOL"

// Risk classifies whether a step runs immediately or needs confirmation.
type Risk string

const (
	RiskRead  Risk = "READ"
	RiskWrite Risk = "WRITE"
)

// StepStatus represents the lifecycle state of an individual step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusExecuted StepStatus = "executed"
	StepStatusRejected StepStatus = "rejected"
	StepStatusFailed   StepStatus = "failed"
)

// Step is one tool invocation inside a Plan.
type Step struct {
	Index    int            `json:"step_index"`
	Type     StepType       `json:"step_type"`
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
	Risk     Risk           `json:"risk"`
	// Priced marks a WRITE step that gets a quote before confirmation.
	Priced bool       `json:"priced,omitempty"`
	Status StepStatus `json:"status"`
	Result string     `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Plan is one planning and execution unit for a single user turn.
type Plan struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id"`
	Audience  Audience       `json:"audience"`
	Question  string         `json:"question"`
	Intent    string         `json:"intent"`
	Mode      Mode           `json:"plan_mode"`
	Status    Status         `json:"status"`
	Steps     []Step         `json:"steps"`
	Context   map[string]any `json:"context,omitempty"`
	Answer    string         `json:"answer,omitempty"`
	Error     string         `json:"error,omitempty"`
	QuoteID   string         `json:"quote_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Step returns a pointer to the step with the given index, or nil.
func (p *Plan) Step(index int) *Step {
	for i := range p.Steps {
		if p.Steps[i].Index == index {
			return &p.Steps[i]
		}
	}
	return nil
}

// MergeContext copies data into the plan context. Later values win.
func (p *Plan) MergeContext(data map[string]any) {
	if len(data) == 0 {
		return
	}
	if p.Context == nil {
		p.Context = make(map[string]any, len(data))
	}
	for k, v := range data {
		p.Context[k] = v
	}
}
