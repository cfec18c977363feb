package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/concierge/internal/adapter/postgres"
	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/action"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/database"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

// tenantCtx returns a context for a fresh tenant so tests never collide.
func tenantCtx(t *testing.T) (context.Context, string) {
	t.Helper()
	tid := "test-" + uuid.NewString()[:8]
	return middleware.WithTenantID(context.Background(), tid), tid
}

func newPlan(tenantID string) *plan.Plan {
	return &plan.Plan{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Audience: plan.AudienceGuest,
		Question: "table for 2 at 7pm",
		Intent:   "reserve_table",
		Mode:     plan.ModeCommit,
		Status:   plan.StatusPending,
		Steps: []plan.Step{
			{Index: 0, Type: plan.StepTypeTool, ToolName: "check_table_availability", ToolArgs: map[string]any{"party_size": 2}, Risk: plan.RiskRead, Status: plan.StepStatusPending},
			{Index: 1, Type: plan.StepTypeTool, ToolName: "reserve_table", ToolArgs: map[string]any{"party_size": 2}, Risk: plan.RiskWrite, Priced: true, Status: plan.StepStatusPending},
		},
	}
}

func TestPlanLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	p := newPlan(tid)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	step := p.Steps[0]
	step.Status = plan.StepStatusExecuted
	step.Result = "2 tables free"
	if err := s.SaveStepResult(ctx, p.ID, &step, map[string]any{"unit_price_cents": 4500}); err != nil {
		t.Fatalf("SaveStepResult: %v", err)
	}

	q, err := quote.Compute([]quote.LineItem{{Description: "dinner", UnitPriceCents: 4500, Quantity: 2}},
		quote.Pricing{TaxRate: 0.10, FlatFeeCents: 250, Currency: "USD"})
	if err != nil {
		t.Fatal(err)
	}
	q.ID, q.TenantID, q.PlanID, q.StepIndex = uuid.NewString(), tid, p.ID, 1
	a := &action.PendingAction{ID: uuid.NewString(), TenantID: tid, PlanID: p.ID, StepIndex: 1, State: action.StatePending}
	if err := s.HaltForConfirmation(ctx, database.Halt{PlanID: p.ID, Quote: &q, Action: a}); err != nil {
		t.Fatalf("HaltForConfirmation: %v", err)
	}

	got, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Status != plan.StatusNeedsConfirmation || got.QuoteID != q.ID {
		t.Fatalf("unexpected plan: status=%s quote=%s", got.Status, got.QuoteID)
	}
	if len(got.Steps) != 2 || got.Steps[0].Status != plan.StepStatusExecuted || got.Steps[0].Result != "2 tables free" {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
	if got.Context["unit_price_cents"] != float64(4500) {
		t.Fatalf("context not stored: %v", got.Context)
	}

	storedQuote, err := s.GetQuote(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if storedQuote.TotalCents != 10150 || len(storedQuote.Items) != 1 {
		t.Fatalf("unexpected quote: %+v", storedQuote)
	}

	// Other tenants cannot see the plan.
	otherCtx := middleware.WithTenantID(context.Background(), "someone-else")
	if _, err := s.GetPlan(otherCtx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestConsumePendingActionOnce(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	p := newPlan(tid)
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatal(err)
	}
	a := &action.PendingAction{ID: uuid.NewString(), TenantID: tid, PlanID: p.ID, StepIndex: 1, State: action.StatePending}
	if err := s.HaltForConfirmation(ctx, database.Halt{PlanID: p.ID, Action: a}); err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumePendingAction(ctx, a.ID, action.StateConfirmed)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}

	outcome := action.Outcome{Status: string(plan.StatusSuccess), Answer: "Booked. Receipt: R-1", Receipt: "R-1"}
	err := s.FinishAction(ctx, database.ActionCompletion{
		ActionID: a.ID, PlanID: p.ID, StepIndex: 1,
		StepStatus: plan.StepStatusExecuted, StepResult: "booked",
		PlanStatus: plan.StatusSuccess, PlanAnswer: outcome.Answer, Outcome: outcome,
	})
	if err != nil {
		t.Fatalf("FinishAction: %v", err)
	}

	got, err := s.GetPendingAction(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != action.StateConfirmed || got.Outcome == nil || got.Outcome.Receipt != "R-1" || got.DecidedAt == nil {
		t.Fatalf("unexpected action: %+v", got)
	}

	// A second finisher must not overwrite the recorded outcome.
	err = s.FinishAction(ctx, database.ActionCompletion{
		ActionID: a.ID, PlanID: p.ID, StepIndex: 1,
		StepStatus: plan.StepStatusFailed, PlanStatus: plan.StatusFailed,
		Outcome: action.Outcome{Status: string(plan.StatusFailed)},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second FinishAction: expected conflict, got %v", err)
	}
	if again, _ := s.GetPlan(ctx, p.ID); again.Status != plan.StatusSuccess {
		t.Fatalf("plan status overwritten: %s", again.Status)
	}
}

func TestInsertJobIfAbsent(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	first := &job.Job{ID: uuid.NewString(), TenantID: tid, QuoteID: "q1", PaymentID: "pay_1", EventID: "evt_1", Status: job.StatusQueued}
	got, created, err := s.InsertJobIfAbsent(ctx, first)
	if err != nil || !created || got.ID != first.ID {
		t.Fatalf("first insert: job=%v created=%v err=%v", got, created, err)
	}

	second := &job.Job{ID: uuid.NewString(), TenantID: tid, QuoteID: "q1", PaymentID: "pay_1", EventID: "evt_1", Status: job.StatusQueued}
	got, created, err = s.InsertJobIfAbsent(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if created || got.ID != first.ID {
		t.Fatalf("duplicate event must return the first job, got %s created=%v", got.ID, created)
	}

	jobs, err := s.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one row, got %d", len(jobs))
	}
}

func TestClaimJobLease(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	j := &job.Job{ID: uuid.NewString(), TenantID: tid, QuoteID: "q1", PaymentID: "pay_1", EventID: uuid.NewString(), Status: job.StatusQueued}
	if _, _, err := s.InsertJobIfAbsent(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.ClaimJob(ctx, j.ID, time.Minute)
	if err != nil || !ok || got.Status != job.StatusRunning {
		t.Fatalf("first claim: %v %v %v", got, ok, err)
	}
	if _, ok, err := s.ClaimJob(ctx, j.ID, time.Minute); err != nil || ok {
		t.Fatalf("second claim under live lease must fail: ok=%v err=%v", ok, err)
	}

	if err := s.CompleteJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	got, ok, err = s.ClaimJob(ctx, j.ID, 0)
	if err != nil || ok || got.Status != job.StatusSucceeded {
		t.Fatalf("succeeded job must not be claimed: %v %v %v", got, ok, err)
	}

	if _, _, err := s.ClaimJob(ctx, uuid.NewString(), time.Minute); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueJob(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	j := &job.Job{ID: uuid.NewString(), TenantID: tid, QuoteID: "q1", PaymentID: "pay_1", EventID: uuid.NewString(), Status: job.StatusQueued}
	if _, _, err := s.InsertJobIfAbsent(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RequeueJob(ctx, j.ID, true); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("queued job requeue: expected ErrConflict, got %v", err)
	}

	if err := s.RecordJobFailure(ctx, j.ID, 5, "provider down", job.StatusFailed); err != nil {
		t.Fatal(err)
	}
	failed, err := s.ListJobs(ctx, job.StatusFailed, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("expected one failed job, got %d (%v)", len(failed), err)
	}

	got, err := s.RequeueJob(ctx, j.ID, true)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if got.Status != job.StatusQueued || got.Attempts != 0 || got.LastError != "" {
		t.Fatalf("unexpected requeued job: %+v", got)
	}
}

func TestMarkJobFailedEnqueueKeepsRunning(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	j := &job.Job{ID: uuid.NewString(), TenantID: tid, QuoteID: "q1", PaymentID: "pay_1", EventID: uuid.NewString(), Status: job.StatusQueued}
	if _, _, err := s.InsertJobIfAbsent(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.ClaimJob(ctx, j.ID, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkJobFailedEnqueue(ctx, j.ID, "publish timeout"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusRunning {
		t.Fatalf("running job must not be downgraded, got %s", got.Status)
	}
}

func TestTenantBindings(t *testing.T) {
	s := setupStore(t)
	ctx, tid := tenantCtx(t)

	if err := s.SetTenantBinding(ctx, tid, toolprovider.DomainDining, "sevenrooms"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTenantBinding(ctx, tid, toolprovider.DomainDining, "opentable"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTenantBindings(ctx, tid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[toolprovider.DomainDining] != "opentable" {
		t.Fatalf("unexpected bindings: %v", got)
	}
}
