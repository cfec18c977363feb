package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/port/answerer"
	"github.com/Strob0t/concierge/internal/port/database"
)

// Statuses of a turn that did not produce a plan.
const (
	StatusAnswered   = "answered"
	StatusUnanswered = "unanswered"
)

const maxQuestionLen = 2000

// AskRequest is one user turn.
type AskRequest struct {
	TenantID  string        `json:"-"`
	SessionID string        `json:"session_id"`
	Audience  plan.Audience `json:"audience"`
	Question  string        `json:"question"`
	Mode      plan.Mode     `json:"plan_mode,omitempty"`
}

// Validate checks the request shape.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	switch {
	case r.Question == "":
		return fmt.Errorf("question is required: %w", domain.ErrValidation)
	case len(r.Question) > maxQuestionLen:
		return fmt.Errorf("question exceeds %d characters: %w", maxQuestionLen, domain.ErrValidation)
	case !plan.ValidAudience(r.Audience):
		return fmt.Errorf("invalid audience %q: %w", r.Audience, domain.ErrValidation)
	case r.Mode != "" && r.Mode != plan.ModeCommit && r.Mode != plan.ModeDryRun:
		return fmt.Errorf("invalid plan_mode %q: %w", r.Mode, domain.ErrValidation)
	}
	return nil
}

// AskResult is the answer to one turn.
type AskResult struct {
	Status   string       `json:"status"`
	PlanID   string       `json:"plan_id,omitempty"`
	Intent   string       `json:"intent,omitempty"`
	Answer   string       `json:"answer,omitempty"`
	ActionID string       `json:"action_id,omitempty"`
	Quote    *quote.Quote `json:"quote,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// AssistantService is the front door: plan and run recognized intents, and
// hand everything else to the free-form answerer.
type AssistantService struct {
	planner  *Planner
	runner   *PlanRunner
	answerer answerer.Answerer
	store    database.Store
}

// NewAssistantService creates the service. ans may be nil.
func NewAssistantService(planner *Planner, runner *PlanRunner, ans answerer.Answerer, store database.Store) *AssistantService {
	return &AssistantService{planner: planner, runner: runner, answerer: ans, store: store}
}

// Ask handles one turn.
func (s *AssistantService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := s.planner.Plan(PlanRequest{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Audience:  req.Audience,
		Question:  req.Question,
		Mode:      req.Mode,
	})
	if p == nil {
		return s.fallback(ctx, req), nil
	}

	res, err := s.runner.RunPlan(ctx, p)
	if err != nil {
		return nil, err
	}
	return &AskResult{
		Status:   string(res.Status),
		PlanID:   res.PlanID,
		Intent:   p.Intent,
		Answer:   res.Answer,
		ActionID: res.ActionID,
		Quote:    res.Quote,
		Error:    res.Error,
	}, nil
}

func (s *AssistantService) fallback(ctx context.Context, req AskRequest) *AskResult {
	if s.answerer == nil {
		return &AskResult{Status: StatusUnanswered, Answer: "Sorry, I can only help with rooms, tables and events."}
	}
	text, err := s.answerer.Answer(ctx, answerer.Request{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Audience:  string(req.Audience),
		Question:  req.Question,
	})
	if err != nil {
		slog.Warn("fallback answerer failed", "tenant_id", req.TenantID, "error", err)
		return &AskResult{Status: StatusUnanswered, Answer: "Sorry, I cannot answer that right now. Please try again later."}
	}
	return &AskResult{Status: StatusAnswered, Answer: text}
}

// Decide confirms or rejects a pending action.
func (s *AssistantService) Decide(ctx context.Context, actionID string, confirm bool) (*RunResult, error) {
	return s.runner.ResumePlan(ctx, actionID, confirm)
}

// GetPlan returns a plan of the context tenant.
func (s *AssistantService) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	return s.store.GetPlan(ctx, id)
}

// GetJob returns an execution job of the context tenant.
func (s *AssistantService) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// GetQuote returns a quote of the context tenant.
func (s *AssistantService) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	return s.store.GetQuote(ctx, id)
}
