package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/action"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// mockStore implements database.Store in memory.
type mockStore struct {
	mu       sync.Mutex
	plans    map[string]*plan.Plan
	history  map[string][]plan.Status
	actions  map[string]*action.PendingAction
	quotes   map[string]*quote.Quote
	jobs     map[string]*job.Job
	bindings map[string]map[toolprovider.Domain]string

	bindingReads int
	consumeCalls int
	finishErr    error
	finishFails  int
	claimErr     error
	markErr      error
}

var _ database.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		plans:    map[string]*plan.Plan{},
		history:  map[string][]plan.Status{},
		actions:  map[string]*action.PendingAction{},
		quotes:   map[string]*quote.Quote{},
		jobs:     map[string]*job.Job{},
		bindings: map[string]map[toolprovider.Domain]string{},
	}
}

func clonePlan(p *plan.Plan) *plan.Plan {
	c := *p
	c.Steps = make([]plan.Step, len(p.Steps))
	for i, s := range p.Steps {
		s.ToolArgs = maps.Clone(s.ToolArgs)
		c.Steps[i] = s
	}
	c.Context = maps.Clone(p.Context)
	return &c
}

func cloneAction(a *action.PendingAction) *action.PendingAction {
	c := *a
	if a.Outcome != nil {
		o := *a.Outcome
		c.Outcome = &o
	}
	return &c
}

func cloneJob(j *job.Job) *job.Job {
	c := *j
	return &c
}

// --- PlanStore ---

func (m *mockStore) CreatePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; ok {
		return fmt.Errorf("plan %s: %w", p.ID, domain.ErrConflict)
	}
	m.plans[p.ID] = clonePlan(p)
	m.history[p.ID] = append(m.history[p.ID], p.Status)
	return nil
}

func (m *mockStore) GetPlan(_ context.Context, id string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	return clonePlan(p), nil
}

func (m *mockStore) UpdatePlanStatus(_ context.Context, id string, status plan.Status, answer, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	p.Status, p.Answer, p.Error = status, answer, errMsg
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *mockStore) SaveStepResult(_ context.Context, planID string, step *plan.Step, planContext map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return fmt.Errorf("plan %s: %w", planID, domain.ErrNotFound)
	}
	s := p.Step(step.Index)
	if s == nil {
		return fmt.Errorf("step %d: %w", step.Index, domain.ErrNotFound)
	}
	s.Status, s.Result, s.Error = step.Status, step.Result, step.Error
	p.Context = maps.Clone(planContext)
	return nil
}

func (m *mockStore) HaltForConfirmation(_ context.Context, h database.Halt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[h.PlanID]
	if !ok {
		return fmt.Errorf("plan %s: %w", h.PlanID, domain.ErrNotFound)
	}
	if h.Quote != nil {
		q := *h.Quote
		m.quotes[q.ID] = &q
		p.QuoteID = q.ID
	}
	a := cloneAction(h.Action)
	a.CreatedAt = time.Now()
	m.actions[a.ID] = a
	p.Status = plan.StatusNeedsConfirmation
	p.Answer = h.Answer
	m.history[p.ID] = append(m.history[p.ID], p.Status)
	return nil
}

// --- ActionStore ---

func (m *mockStore) GetPendingAction(_ context.Context, id string) (*action.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	return cloneAction(a), nil
}

func (m *mockStore) ConsumePendingAction(_ context.Context, id string, state action.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++
	a, ok := m.actions[id]
	if !ok {
		return false, fmt.Errorf("action %s: %w", id, domain.ErrNotFound)
	}
	if a.State != action.StatePending {
		return false, nil
	}
	now := time.Now()
	a.State = state
	a.DecidedAt = &now
	return true, nil
}

func (m *mockStore) FinishAction(_ context.Context, c database.ActionCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		return m.finishErr
	}
	if m.finishFails > 0 {
		m.finishFails--
		return errors.New("connection reset")
	}
	if m.actions[c.ActionID].Outcome != nil {
		return fmt.Errorf("outcome of action %s: %w", c.ActionID, domain.ErrConflict)
	}
	p, ok := m.plans[c.PlanID]
	if !ok {
		return fmt.Errorf("plan %s: %w", c.PlanID, domain.ErrNotFound)
	}
	s := p.Step(c.StepIndex)
	s.Status, s.Result, s.Error = c.StepStatus, c.StepResult, c.StepError
	p.Status, p.Answer, p.Error = c.PlanStatus, c.PlanAnswer, c.PlanError
	p.Context = maps.Clone(c.PlanContext)
	m.history[p.ID] = append(m.history[p.ID], p.Status)

	o := c.Outcome
	m.actions[c.ActionID].Outcome = &o
	return nil
}

// --- QuoteStore ---

func (m *mockStore) GetQuote(_ context.Context, id string) (*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", id, domain.ErrNotFound)
	}
	c := *q
	return &c, nil
}

func (m *mockStore) MarkQuotePaid(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return fmt.Errorf("quote %s: %w", id, domain.ErrNotFound)
	}
	if q.PaidAt == nil {
		now := time.Now()
		q.PaidAt = &now
	}
	return nil
}

// --- JobStore ---

func (m *mockStore) InsertJobIfAbsent(_ context.Context, j *job.Job) (*job.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.TenantID == j.TenantID && existing.EventID == j.EventID {
			return cloneJob(existing), false, nil
		}
	}
	c := cloneJob(j)
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.jobs[c.ID] = c
	return cloneJob(c), true, nil
}

func (m *mockStore) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return cloneJob(j), nil
}

func (m *mockStore) ClaimJob(_ context.Context, id string, lease time.Duration) (*job.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, false, m.claimErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, false, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if j.Status.IsTerminal() || (j.Status == job.StatusRunning && time.Since(j.UpdatedAt) < lease) {
		return cloneJob(j), false, nil
	}
	j.Status = job.StatusRunning
	j.UpdatedAt = time.Now()
	return cloneJob(j), true, nil
}

func (m *mockStore) CompleteJob(_ context.Context, id string) error {
	return m.updateJob(id, func(j *job.Job) {
		j.Status = job.StatusSucceeded
		j.Attempts++
		j.LastError = ""
	})
}

func (m *mockStore) RecordJobFailure(_ context.Context, id string, attempts int, lastErr string, status job.Status) error {
	return m.updateJob(id, func(j *job.Job) {
		j.Attempts, j.LastError, j.Status = attempts, lastErr, status
	})
}

func (m *mockStore) MarkJobFailedEnqueue(_ context.Context, id, lastErr string) error {
	if m.markErr != nil {
		return m.markErr
	}
	return m.updateJob(id, func(j *job.Job) {
		j.Status, j.LastError = job.StatusFailedEnqueue, lastErr
	})
}

func (m *mockStore) RequeueJob(_ context.Context, id string, resetAttempts bool) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if j.Status != job.StatusFailed && j.Status != job.StatusFailedEnqueue {
		return nil, fmt.Errorf("requeue job %s in status %s: %w", id, j.Status, domain.ErrConflict)
	}
	j.Status = job.StatusQueued
	j.LastError = ""
	if resetAttempts {
		j.Attempts = 0
	}
	j.UpdatedAt = time.Now()
	return cloneJob(j), nil
}

func (m *mockStore) ListJobs(_ context.Context, status job.Status, _ int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	slices.SortFunc(out, func(a, b job.Job) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (m *mockStore) updateJob(id string, fn func(*job.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return nil
}

func (m *mockStore) job(id string) job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// --- BindingStore ---

func (m *mockStore) GetTenantBindings(_ context.Context, tenantID string) (map[toolprovider.Domain]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindingReads++
	return maps.Clone(m.bindings[tenantID]), nil
}

func (m *mockStore) SetTenantBinding(_ context.Context, tenantID string, d toolprovider.Domain, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindings[tenantID] == nil {
		m.bindings[tenantID] = map[toolprovider.Domain]string{}
	}
	m.bindings[tenantID][d] = provider
	return nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
	handlers   map[string]messagequeue.Handler
}

type publishedMsg struct {
	subject string
	msgID   string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	return q.PublishMsg(context.Background(), subject, "", data)
}

func (q *mockQueue) PublishMsg(_ context.Context, subject, msgID string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject: subject, msgID: msgID, data: data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = map[string]messagequeue.Handler{}
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) on(subject string) []publishedMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []publishedMsg
	for _, m := range q.published {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// mockBroadcaster records broadcast events.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []mockEvent
}

type mockEvent struct {
	eventType string
	payload   any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockEvent{eventType, payload})
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

// fakeCapability serves a fixed tool list through fn and records calls.
type fakeCapability struct {
	provider string
	domain   toolprovider.Domain
	tools    []string
	fn       func(call toolprovider.Call) (*toolprovider.Result, error)

	mu    sync.Mutex
	calls []toolprovider.Call
}

func (f *fakeCapability) Provider() string            { return f.provider }
func (f *fakeCapability) Domain() toolprovider.Domain { return f.domain }

func (f *fakeCapability) Tools() []toolprovider.ToolSpec {
	specs := make([]toolprovider.ToolSpec, 0, len(f.tools))
	for _, t := range f.tools {
		specs = append(specs, toolprovider.ToolSpec{Name: t})
	}
	return specs
}

func (f *fakeCapability) Execute(_ context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.fn == nil {
		return &toolprovider.Result{Text: call.Tool + " ok"}, nil
	}
	return f.fn(call)
}

func (f *fakeCapability) callsTo(tool string) []toolprovider.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolprovider.Call
	for _, c := range f.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}
