package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/concierge/internal/adapter/ws"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

var testWorkerConfig = config.Worker{
	MaxAttempts: 3,
	BaseBackoff: 10 * time.Millisecond,
	MaxBackoff:  100 * time.Millisecond,
	Concurrency: 2,
	Lease:       time.Minute,
}

func commerceCapability(fn func(toolprovider.Call) (*toolprovider.Result, error)) *fakeCapability {
	if fn == nil {
		fn = func(toolprovider.Call) (*toolprovider.Result, error) {
			return &toolprovider.Result{Text: "settled", Data: map[string]any{"receipt": "RCPT-1"}}, nil
		}
	}
	return &fakeCapability{provider: "fake", domain: toolprovider.DomainCommerce, tools: []string{SettleTool}, fn: fn}
}

type workerFixture struct {
	store    *mockStore
	queue    *mockQueue
	hub      *mockBroadcaster
	commerce *fakeCapability
	worker   *JobWorker
}

func newWorkerFixture(t *testing.T, fn func(toolprovider.Call) (*toolprovider.Result, error)) *workerFixture {
	t.Helper()
	f := &workerFixture{
		store:    storeWithQuote(),
		queue:    &mockQueue{},
		hub:      &mockBroadcaster{},
		commerce: commerceCapability(fn),
	}
	f.store.jobs["j1"] = &job.Job{
		ID: "j1", TenantID: "hotel-a", QuoteID: "q1", PaymentID: "pay-1", EventID: "evt-1",
		Status: job.StatusQueued, UpdatedAt: time.Now(),
	}
	f.worker = NewJobWorker(f.store, f.queue, newTestRegistry(t, f.commerce), f.hub, testWorkerConfig)
	return f
}

var j1Payload = messagequeue.ExecuteJobPayload{JobID: "j1", TenantID: "hotel-a", QuoteID: "q1"}

func TestWorkerSettlesOnce(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	if out := f.worker.Process(ctx, j1Payload); out.Kind != job.OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", out.Kind, out.Err)
	}
	got := f.store.job("j1")
	if got.Status != job.StatusSucceeded || got.Attempts != 1 {
		t.Fatalf("stored job %+v", got)
	}
	if f.store.quotes["q1"].PaidAt == nil {
		t.Fatal("quote not marked paid")
	}

	calls := f.commerce.callsTo(SettleTool)
	if len(calls) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(calls))
	}
	c := calls[0]
	if c.IdempotencyKey != "j1" || c.Args["quote_id"] != "q1" || c.Args["payment_id"] != "pay-1" || c.Args["total_cents"] != int64(10150) {
		t.Fatalf("unexpected settlement call %+v", c)
	}

	// Redeliveries of a finished job are acknowledged without side effects.
	if out := f.worker.Process(ctx, j1Payload); out.Kind != job.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", out.Kind)
	}
	data, _ := json.Marshal(j1Payload)
	if err := f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, data); err != nil {
		t.Fatalf("HandleMessage on finished job: %v", err)
	}
	if n := len(f.commerce.callsTo(SettleTool)); n != 1 {
		t.Fatalf("settlement ran %d times", n)
	}
	if n := f.hub.count(ws.EventJobStatus); n != 1 {
		t.Fatalf("expected 1 job.status event, got %d", n)
	}
}

func TestWorkerRetriesUntilExhausted(t *testing.T) {
	f := newWorkerFixture(t, func(toolprovider.Call) (*toolprovider.Result, error) {
		return nil, errors.New("gateway timeout")
	})
	ctx := context.Background()
	data, _ := json.Marshal(j1Payload)

	wantDelays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	for i, want := range wantDelays {
		err := f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, data)
		delay, ok := messagequeue.RetryDelay(err)
		if !ok || delay != want {
			t.Fatalf("attempt %d: expected retry in %s, got %v", i+1, want, err)
		}
		got := f.store.job("j1")
		if got.Status != job.StatusQueued || got.Attempts != i+1 || got.LastError == "" {
			t.Fatalf("attempt %d: stored job %+v", i+1, got)
		}
	}

	err := f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, data)
	if !messagequeue.IsPermanent(err) || !errors.Is(err, job.ErrRetriesExhausted) {
		t.Fatalf("final attempt: expected permanent exhaustion, got %v", err)
	}
	got := f.store.job("j1")
	if got.Status != job.StatusFailed || got.Attempts != 3 {
		t.Fatalf("stored job %+v", got)
	}

	failed := f.queue.on(messagequeue.SubjectJobFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 jobs.failed message, got %d", len(failed))
	}
	var payload messagequeue.JobFailedPayload
	if err := json.Unmarshal(failed[0].data, &payload); err != nil {
		t.Fatalf("jobs.failed payload: %v", err)
	}
	if payload.JobID != "j1" || payload.Attempts != 3 || !strings.Contains(payload.LastError, SettleTool) {
		t.Fatalf("unexpected jobs.failed payload %+v", payload)
	}
	if f.store.quotes["q1"].PaidAt != nil {
		t.Fatal("failed job marked the quote paid")
	}
}

func TestWorkerPermanentFailure(t *testing.T) {
	f := newWorkerFixture(t, func(call toolprovider.Call) (*toolprovider.Result, error) {
		return nil, toolprovider.Permanent(call.Tool, errors.New("card declined"))
	})

	out := f.worker.Process(context.Background(), j1Payload)
	if out.Kind != job.OutcomeFailed {
		t.Fatalf("expected failed, got %s", out.Kind)
	}
	if got := f.store.job("j1"); got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("stored job %+v", got)
	}
	if n := len(f.queue.on(messagequeue.SubjectJobFailed)); n != 1 {
		t.Fatalf("expected jobs.failed, got %d messages", n)
	}
}

func TestWorkerMissingQuoteIsPermanent(t *testing.T) {
	f := newWorkerFixture(t, nil)
	delete(f.store.quotes, "q1")

	if out := f.worker.Process(context.Background(), j1Payload); out.Kind != job.OutcomeFailed {
		t.Fatalf("expected failed, got %s", out.Kind)
	}
	if n := len(f.commerce.callsTo(SettleTool)); n != 0 {
		t.Fatalf("settled %d times without a quote", n)
	}
}

func TestWorkerLeaseHeldElsewhere(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.store.jobs["j1"].Status = job.StatusRunning
	f.store.jobs["j1"].UpdatedAt = time.Now()

	out := f.worker.Process(context.Background(), j1Payload)
	if out.Kind != job.OutcomeRetry || out.Delay != testWorkerConfig.Lease {
		t.Fatalf("expected retry after the lease, got %s in %s", out.Kind, out.Delay)
	}
	if n := len(f.commerce.callsTo(SettleTool)); n != 0 {
		t.Fatalf("settled %d times while leased elsewhere", n)
	}
}

func TestWorkerExpiredLeaseIsReclaimed(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.store.jobs["j1"].Status = job.StatusRunning
	f.store.jobs["j1"].UpdatedAt = time.Now().Add(-2 * testWorkerConfig.Lease)

	if out := f.worker.Process(context.Background(), j1Payload); out.Kind != job.OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", out.Kind, out.Err)
	}
}

func TestWorkerHandleMessageErrors(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	if err := f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, []byte("{not json")); !messagequeue.IsPermanent(err) {
		t.Fatalf("bad payload: expected permanent, got %v", err)
	}
	if err := f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, []byte(`{"job_id":"missing"}`)); !messagequeue.IsPermanent(err) {
		t.Fatalf("unknown job: expected permanent, got %v", err)
	}

	f.store.claimErr = errors.New("connection reset")
	data, _ := json.Marshal(j1Payload)
	if _, ok := messagequeue.RetryDelay(f.worker.HandleMessage(ctx, messagequeue.SubjectJobExecute, data)); !ok {
		t.Fatal("store outage: expected retry")
	}
}

func TestWorkerStartSubscribes(t *testing.T) {
	f := newWorkerFixture(t, nil)
	stop, err := f.worker.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop()

	h, ok := f.queue.handlers[messagequeue.SubjectJobExecute]
	if !ok {
		t.Fatal("worker did not subscribe to jobs.execute")
	}
	data, _ := json.Marshal(j1Payload)
	if err := h(context.Background(), messagequeue.SubjectJobExecute, data); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := f.store.job("j1"); got.Status != job.StatusSucceeded {
		t.Fatalf("status %s", got.Status)
	}
}
