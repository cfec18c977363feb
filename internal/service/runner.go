package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/adapter/ws"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/action"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/logger"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/broadcast"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// ReceiptMarker prefixes the provider reference in a final answer.
const ReceiptMarker = "Receipt:"

// toolExecutor is the part of the ToolRegistry the runner and worker use.
type toolExecutor interface {
	Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error)
}

// RunResult is what the caller of RunPlan and ResumePlan sees.
type RunResult struct {
	PlanID   string       `json:"plan_id"`
	Status   plan.Status  `json:"status"`
	Answer   string       `json:"answer,omitempty"`
	ActionID string       `json:"action_id,omitempty"`
	Quote    *quote.Quote `json:"quote,omitempty"`
	Receipt  string       `json:"receipt,omitempty"`
	Error    string       `json:"error,omitempty"`
	// Replayed is set when the result is the stored outcome of an earlier decision.
	Replayed bool `json:"replayed,omitempty"`
}

// PlanRunner drives plans through their state machine. Every transition is
// written through the store before the next step starts.
type PlanRunner struct {
	store   database.Store
	tools   toolExecutor
	pricing quote.Pricing
	hub     broadcast.Broadcaster
	metrics *otel.Metrics

	replayWait    time.Duration
	replayPoll    time.Duration
	recoverAfter  time.Duration
	finishBackoff time.Duration
}

// finishAttempts bounds how often an outcome write is tried per call.
const finishAttempts = 3

// NewPlanRunner creates a runner.
func NewPlanRunner(store database.Store, tools toolExecutor, pricing quote.Pricing, hub broadcast.Broadcaster, cfg config.Runner) *PlanRunner {
	recoverAfter := cfg.RecoverAfter
	if recoverAfter <= 0 {
		recoverAfter = 30 * time.Second
	}
	return &PlanRunner{
		store:      store,
		tools:      tools,
		pricing:    pricing,
		hub:        hub,
		replayWait:    cfg.ReplayWait,
		replayPoll:    cfg.ReplayPoll,
		recoverAfter:  recoverAfter,
		finishBackoff: 50 * time.Millisecond,
	}
}

// SetMetrics attaches otel instruments.
func (r *PlanRunner) SetMetrics(m *otel.Metrics) { r.metrics = m }

// RunPlan persists p, runs its READ steps in order and halts at the first
// WRITE step. A WRITE tool is never invoked here.
func (r *PlanRunner) RunPlan(ctx context.Context, p *plan.Plan) (res *RunResult, err error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Mode == "" {
		p.Mode = plan.ModeCommit
	}

	ctx = middleware.WithTenantID(ctx, p.TenantID)
	ctx = logger.WithPlanID(ctx, p.ID)
	ctx, span := otel.StartPlanSpan(ctx, p.ID, p.TenantID, p.Intent)
	defer func() { otel.EndSpan(span, err) }()

	p.Status = plan.StatusPending
	if err := r.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	r.metrics.PlanStarted(ctx, p.Intent)

	if err := r.setStatus(ctx, p, plan.StatusRunning, "", ""); err != nil {
		return nil, err
	}

	var answer []string
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Risk == plan.RiskWrite {
			if p.Mode == plan.ModeDryRun {
				return r.preview(ctx, p, step, answer)
			}
			return r.halt(ctx, p, step, answer)
		}

		out, callErr := r.call(ctx, p, step, "")
		if callErr != nil {
			return r.failStep(ctx, p, step, answer, callErr)
		}

		step.Status = plan.StepStatusExecuted
		step.Result = out.Text
		p.MergeContext(out.Data)
		if err := r.store.SaveStepResult(ctx, p.ID, step, p.Context); err != nil {
			return nil, fmt.Errorf("save step %d: %w", step.Index, err)
		}
		if out.Text != "" {
			answer = append(answer, out.Text)
		}

		if out.Unavailable() {
			slog.Info("plan ended early, nothing available",
				"plan_id", p.ID, "tool", step.ToolName)
			break
		}
	}

	return r.finish(ctx, p, strings.Join(answer, "\n"))
}

func (r *PlanRunner) finish(ctx context.Context, p *plan.Plan, answer string) (*RunResult, error) {
	if err := r.setStatus(ctx, p, plan.StatusSuccess, answer, ""); err != nil {
		return nil, err
	}
	return &RunResult{PlanID: p.ID, Status: plan.StatusSuccess, Answer: answer}, nil
}

func (r *PlanRunner) failStep(ctx context.Context, p *plan.Plan, step *plan.Step, answer []string, cause error) (*RunResult, error) {
	reason := plan.FailureReason(step.ToolName, cause)
	step.Status = plan.StepStatusFailed
	step.Error = reason
	if err := r.store.SaveStepResult(ctx, p.ID, step, p.Context); err != nil {
		return nil, fmt.Errorf("save step %d: %w", step.Index, err)
	}

	partial := strings.Join(answer, "\n")
	if err := r.setStatus(ctx, p, plan.StatusFailed, partial, reason); err != nil {
		return nil, err
	}
	slog.Warn("plan failed",
		"plan_id", p.ID,
		"tool", step.ToolName,
		"error", cause,
	)
	return &RunResult{PlanID: p.ID, Status: plan.StatusFailed, Answer: partial, Error: reason}, nil
}

// priceStep computes the quote of a priced WRITE step. Unpriced steps get nil.
func (r *PlanRunner) priceStep(p *plan.Plan, step *plan.Step) (*quote.Quote, error) {
	if !step.Priced {
		return nil, nil
	}
	items, err := lineItems(p, step)
	if err != nil {
		return nil, err
	}
	q, err := quote.Compute(items, r.pricing)
	if err != nil {
		return nil, err
	}
	q.ID = uuid.NewString()
	q.TenantID = p.TenantID
	q.PlanID = p.ID
	q.StepIndex = step.Index
	q.CreatedAt = time.Now().UTC()
	return &q, nil
}

// halt stores the quote and a fresh pending action and leaves the plan in
// needs_confirmation.
func (r *PlanRunner) halt(ctx context.Context, p *plan.Plan, step *plan.Step, answer []string) (*RunResult, error) {
	q, err := r.priceStep(p, step)
	if err != nil {
		return r.failStep(ctx, p, step, answer, err)
	}

	act := &action.PendingAction{
		ID:        uuid.NewString(),
		TenantID:  p.TenantID,
		PlanID:    p.ID,
		StepIndex: step.Index,
		State:     action.StatePending,
	}
	text := strings.Join(append(answer, confirmationPrompt(step, q)), "\n")

	if err := r.store.HaltForConfirmation(ctx, database.Halt{PlanID: p.ID, Answer: text, Quote: q, Action: act}); err != nil {
		return nil, fmt.Errorf("halt for confirmation: %w", err)
	}
	p.Status = plan.StatusNeedsConfirmation
	p.Answer = text
	if q != nil {
		p.QuoteID = q.ID
		r.metrics.QuoteComputed(ctx, q.TotalCents, q.Currency)
	}
	r.metrics.ConfirmationRequested(ctx)
	r.publish(ctx, p, act.ID)

	slog.Info("plan awaiting confirmation",
		"plan_id", p.ID,
		"action_id", act.ID,
		"tool", step.ToolName,
	)
	return &RunResult{
		PlanID:   p.ID,
		Status:   plan.StatusNeedsConfirmation,
		Answer:   text,
		ActionID: act.ID,
		Quote:    q,
	}, nil
}

// preview ends a dry-run plan at its first WRITE step. The step stays
// pending and no action is created.
func (r *PlanRunner) preview(ctx context.Context, p *plan.Plan, step *plan.Step, answer []string) (*RunResult, error) {
	q, err := r.priceStep(p, step)
	if err != nil {
		return r.failStep(ctx, p, step, answer, err)
	}
	line := fmt.Sprintf("Preview only: I would %s next. Nothing has been booked.", humanize(step.ToolName))
	if q != nil {
		line = fmt.Sprintf("Preview only: I would %s for a total of %s. Nothing has been booked.",
			humanize(step.ToolName), formatCents(q.TotalCents, q.Currency))
	}
	res, err := r.finish(ctx, p, strings.Join(append(answer, line), "\n"))
	if err != nil {
		return nil, err
	}
	res.Quote = q
	return res, nil
}

func confirmationPrompt(step *plan.Step, q *quote.Quote) string {
	if q == nil {
		return fmt.Sprintf("Shall I %s? Please confirm.", humanize(step.ToolName))
	}
	return fmt.Sprintf("Shall I %s? The total is %s (subtotal %s, tax %s, fee %s). Please confirm.",
		humanize(step.ToolName),
		formatCents(q.TotalCents, q.Currency),
		formatCents(q.SubtotalCents, q.Currency),
		formatCents(q.TaxCents, q.Currency),
		formatCents(q.FeeCents, q.Currency),
	)
}

// ResumePlan applies a decision to a pending action. Exactly one caller
// consumes an action; every other call replays the stored outcome.
func (r *PlanRunner) ResumePlan(ctx context.Context, actionID string, confirm bool) (res *RunResult, err error) {
	ctx, span := otel.StartResumeSpan(ctx, actionID, confirm)
	defer func() { otel.EndSpan(span, err) }()

	act, err := r.store.GetPendingAction(ctx, actionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, action.ErrUnknownOrExpiredAction
	}
	if err != nil {
		return nil, err
	}
	ctx = logger.WithPlanID(ctx, act.PlanID)
	if act.Consumed() {
		return r.replay(ctx, act)
	}

	won, err := r.store.ConsumePendingAction(ctx, actionID, action.DecisionState(confirm))
	if err != nil {
		return nil, err
	}
	if !won {
		return r.replay(ctx, act)
	}

	act.State = action.DecisionState(confirm)
	p, c, err := r.decide(ctx, act)
	if err != nil {
		return nil, err
	}

	if err := r.recordOutcome(ctx, c); err != nil {
		slog.Error("decided action not recorded",
			"action_id", act.ID,
			"plan_id", p.ID,
			"error", err,
		)
		return nil, fmt.Errorf("finish action %s: %w", act.ID, err)
	}
	p.Status = c.PlanStatus
	r.metrics.PlanFinished(ctx, string(p.Status))
	r.publish(ctx, p, act.ID)

	return outcomeResult(act, c.Outcome, false), nil
}

// decide builds the completion of a consumed action. A confirmed WRITE
// runs under the action id as idempotency key.
func (r *PlanRunner) decide(ctx context.Context, act *action.PendingAction) (*plan.Plan, database.ActionCompletion, error) {
	p, err := r.store.GetPlan(ctx, act.PlanID)
	if err != nil {
		return nil, database.ActionCompletion{}, fmt.Errorf("load plan of action %s: %w", act.ID, err)
	}
	step := p.Step(act.StepIndex)
	if step == nil {
		return nil, database.ActionCompletion{}, fmt.Errorf("plan %s has no step %d: %w", p.ID, act.StepIndex, domain.ErrNotFound)
	}

	var c database.ActionCompletion
	if act.State == action.StateConfirmed {
		c = r.execute(ctx, p, step, act.ID)
	} else {
		c = rejection(p, step)
	}
	c.ActionID = act.ID
	c.PlanID = p.ID
	c.StepIndex = step.Index
	return p, c, nil
}

// recordOutcome writes the completion, retrying with backoff. The write is
// detached from the caller so a dropped request does not lose an executed
// decision.
func (r *PlanRunner) recordOutcome(ctx context.Context, c database.ActionCompletion) error {
	ctx = context.WithoutCancel(ctx)
	delay := r.finishBackoff
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		if err = r.store.FinishAction(ctx, c); err == nil || errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt < finishAttempts {
			slog.WarnContext(ctx, "finish action failed, retrying",
				"action_id", c.ActionID,
				"attempt", attempt,
				"error", err,
			)
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// finishStranded finishes an action whose decision was taken but never recorded.
// The WRITE is repeated under the same idempotency key, so the provider
// returns the original booking.
func (r *PlanRunner) finishStranded(ctx context.Context, act *action.PendingAction) (*RunResult, error) {
	slog.WarnContext(ctx, "recovering decided action without outcome",
		"action_id", act.ID,
		"state", act.State,
		"decided_at", act.DecidedAt,
	)
	p, c, err := r.decide(ctx, act)
	if err != nil {
		return nil, err
	}
	if err := r.recordOutcome(ctx, c); err != nil {
		// Another caller may have recovered it first.
		if again, gerr := r.store.GetPendingAction(ctx, act.ID); gerr == nil && again.Outcome != nil {
			return outcomeResult(again, *again.Outcome, true), nil
		}
		return nil, fmt.Errorf("recover action %s: %w", act.ID, err)
	}
	p.Status = c.PlanStatus
	r.metrics.PlanFinished(ctx, string(p.Status))
	r.publish(ctx, p, act.ID)
	return outcomeResult(act, c.Outcome, true), nil
}

func rejection(p *plan.Plan, step *plan.Step) database.ActionCompletion {
	answer := fmt.Sprintf("Okay, I did not %s. Nothing has been booked.", humanize(step.ToolName))
	return database.ActionCompletion{
		StepStatus:  plan.StepStatusRejected,
		PlanStatus:  plan.StatusCancelled,
		PlanAnswer:  answer,
		PlanContext: p.Context,
		Outcome:     action.Outcome{Status: string(plan.StatusCancelled), Answer: answer},
	}
}

// execute invokes the confirmed WRITE step once. Failures are not retried.
func (r *PlanRunner) execute(ctx context.Context, p *plan.Plan, step *plan.Step, actionID string) database.ActionCompletion {
	out, err := r.call(ctx, p, step, actionID)
	if err != nil {
		reason := plan.FailureReason(step.ToolName, err)
		slog.Warn("confirmed action failed",
			"action_id", actionID,
			"plan_id", p.ID,
			"tool", step.ToolName,
			"error", err,
		)
		return database.ActionCompletion{
			StepStatus:  plan.StepStatusFailed,
			StepError:   reason,
			PlanStatus:  plan.StatusFailed,
			PlanError:   reason,
			PlanContext: p.Context,
			Outcome:     action.Outcome{Status: string(plan.StatusFailed), Error: reason},
		}
	}

	receipt := out.Receipt()
	if receipt == "" {
		receipt = actionID
	}
	p.MergeContext(out.Data)
	answer := finalAnswer(p, step, out.Text, receipt)
	return database.ActionCompletion{
		StepStatus:  plan.StepStatusExecuted,
		StepResult:  out.Text,
		PlanStatus:  plan.StatusSuccess,
		PlanAnswer:  answer,
		PlanContext: p.Context,
		Outcome:     action.Outcome{Status: string(plan.StatusSuccess), Answer: answer, Receipt: receipt},
	}
}

// finalAnswer joins the executed READ results, the write result and the
// receipt marker.
func finalAnswer(p *plan.Plan, step *plan.Step, text, receipt string) string {
	var parts []string
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Index < step.Index && s.Status == plan.StepStatusExecuted && s.Result != "" {
			parts = append(parts, s.Result)
		}
	}
	if text != "" {
		parts = append(parts, text)
	}
	parts = append(parts, ReceiptMarker+" "+receipt)
	return strings.Join(parts, "\n")
}

// replay returns the stored outcome of a consumed action, waiting up to
// replayWait for a concurrent winner to record it. An action decided more
// than recoverAfter ago without an outcome is finished here.
func (r *PlanRunner) replay(ctx context.Context, act *action.PendingAction) (*RunResult, error) {
	deadline := time.Now().Add(r.replayWait)
	for {
		if act.Outcome != nil {
			return outcomeResult(act, *act.Outcome, true), nil
		}
		if act.DecidedAt != nil && time.Since(*act.DecidedAt) >= r.recoverAfter {
			return r.finishStranded(ctx, act)
		}
		if !time.Now().Before(deadline) {
			return nil, action.ErrActionInProgress
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.replayPoll):
		}

		var err error
		if act, err = r.store.GetPendingAction(ctx, act.ID); err != nil {
			return nil, err
		}
	}
}

func outcomeResult(act *action.PendingAction, o action.Outcome, replayed bool) *RunResult {
	return &RunResult{
		PlanID:   act.PlanID,
		Status:   plan.Status(o.Status),
		Answer:   o.Answer,
		ActionID: act.ID,
		Receipt:  o.Receipt,
		Error:    o.Error,
		Replayed: replayed,
	}
}

// call invokes one step through the registry. key is the idempotency key
// for WRITE steps.
func (r *PlanRunner) call(ctx context.Context, p *plan.Plan, step *plan.Step, key string) (*toolprovider.Result, error) {
	out, err := r.tools.Execute(ctx, toolprovider.Call{
		Tool:           step.ToolName,
		Args:           callArgs(p, step),
		TenantID:       p.TenantID,
		IdempotencyKey: key,
	})
	r.metrics.ToolCall(ctx, step.ToolName, string(step.Risk), err == nil)
	if err == nil && out == nil {
		out = &toolprovider.Result{}
	}
	return out, err
}

func (r *PlanRunner) setStatus(ctx context.Context, p *plan.Plan, status plan.Status, answer, errMsg string) error {
	if err := r.store.UpdatePlanStatus(ctx, p.ID, status, answer, errMsg); err != nil {
		return fmt.Errorf("update plan %s to %s: %w", p.ID, status, err)
	}
	p.Status = status
	p.Answer = answer
	p.Error = errMsg
	if status.IsTerminal() {
		r.metrics.PlanFinished(ctx, string(status))
	}
	r.publish(ctx, p, "")
	return nil
}

func (r *PlanRunner) publish(ctx context.Context, p *plan.Plan, actionID string) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastEvent(middleware.WithTenantID(ctx, p.TenantID), ws.EventPlanStatus, ws.PlanStatusEvent{
		PlanID:    p.ID,
		SessionID: p.SessionID,
		Intent:    p.Intent,
		Status:    string(p.Status),
		ActionID:  actionID,
		QuoteID:   p.QuoteID,
	})
}
