package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/logger"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
// Each test gets its own stream so durable consumers never collide.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	stream := "TEST_" + uuid.NewString()[:8]
	q, err := Connect(context.Background(), config.NATS{URL: url, Stream: stream, DedupWindow: time.Minute})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = q.js.DeleteStream(context.Background(), stream)
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a subject the test stream captures (jobs.>) and the
// validator accepts as any valid JSON.
func uniqueSubject() string {
	return "jobs.test." + uuid.NewString()[:8]
}

func TestQueuePublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject()

	done := make(chan messagequeue.ExecuteJobPayload, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var p messagequeue.ExecuteJobPayload
		if err := json.Unmarshal(d, &p); err != nil {
			return err
		}
		done <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	data, _ := json.Marshal(messagequeue.ExecuteJobPayload{JobID: "j1", TenantID: "t1"})
	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-done:
		if got.JobID != "j1" {
			t.Errorf("got job %q, want j1", got.JobID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueueRequestIDPropagation(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject()

	got := make(chan string, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		got <- logger.RequestID(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), "req-abc-123")
	if err := q.Publish(ctx, subject, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case id := <-got:
		if id != "req-abc-123" {
			t.Errorf("request ID = %q, want req-abc-123", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueuePublishMsgDeduplicates(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject()
	ctx := context.Background()

	for range 3 {
		if err := q.PublishMsg(ctx, subject, "job-1", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("PublishMsg: %v", err)
		}
	}

	info, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		t.Fatal(err)
	}
	si, err := info.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		t.Fatal(err)
	}
	if n := si.State.Subjects[subject]; n != 1 {
		t.Fatalf("expected 1 stored message, got %d", n)
	}
}

func TestQueueRetryThenSucceed(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject()

	var calls atomic.Int32
	done := make(chan struct{})
	var once sync.Once
	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		if calls.Add(1) < 3 {
			return messagequeue.Retry(10*time.Millisecond, errors.New("provider busy"))
		}
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out after %d calls", calls.Load())
	}
}

func TestQueuePermanentNotRedelivered(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject()

	var calls atomic.Int32
	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		calls.Add(1)
		return messagequeue.Permanent(errors.New("quote not found"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
}

func TestQueueInvalidPayloadToDLQ(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.SubjectJobExecute

	dlqConsumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + dlqSuffix,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}
	dlqData := make(chan []byte, 1)
	dlqSub, err := dlqConsumer.Consume(func(msg jetstream.Msg) {
		select {
		case dlqData <- msg.Data():
		default:
		}
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dlqSub.Stop()

	var handled atomic.Bool
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		handled.Store(true)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := q.Publish(ctx, subject, []byte(`{"tenant_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-dlqData:
		if string(d) != `{"tenant_id":"t1"}` {
			t.Errorf("DLQ data = %q", d)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
	if handled.Load() {
		t.Fatal("handler must not see invalid payloads")
	}
}

func TestQueueKeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	bucket := "test-kv-" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = q.js.DeleteKeyValue(context.Background(), bucket) })

	kv, err := q.KeyValue(ctx, bucket, 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	if _, err := kv.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "hello" {
		t.Errorf("value = %q, want hello", entry.Value())
	}
}

func TestQueueIsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

func TestDurableName(t *testing.T) {
	if got := durableName("jobs.execute"); got != "concierge-jobs-execute" {
		t.Fatalf("durableName = %q", got)
	}
}
