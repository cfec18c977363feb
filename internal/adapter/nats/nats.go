// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/logger"
	"github.com/Strob0t/concierge/internal/port/messagequeue"
)

const (
	headerRequestID = "X-Request-ID"
	dlqSuffix       = ".dlq"
	ackWait         = 2 * time.Minute
	streamMaxAge    = 7 * 24 * time.Hour
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	mu   sync.Mutex
	subs []jetstream.ConsumeContext

	// inflight tracks handler goroutines so Drain can wait for them.
	inflight sync.WaitGroup
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect establishes a connection to NATS and ensures the JetStream stream
// exists. The stream deduplicates publishes carrying the same Nats-Msg-Id
// within cfg.DedupWindow.
func Connect(ctx context.Context, cfg config.NATS) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("concierge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "CONCIERGE"
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{"jobs.>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     streamMaxAge,
		Duplicates: cfg.DedupWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", cfg.URL, "stream", stream)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// Publish sends a message to the given subject.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	return q.publish(ctx, subject, data)
}

// PublishMsg sends a message with a Nats-Msg-Id so the stream drops
// duplicate submissions of the same id.
func (q *Queue) PublishMsg(ctx context.Context, subject, msgID string, data []byte) error {
	return q.publish(ctx, subject, data, jetstream.WithMsgID(msgID))
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	ack, err := q.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		slog.DebugContext(ctx, "nats publish deduplicated", "subject", subject, "seq", ack.Sequence)
	}
	return nil
}

// Subscribe binds a durable consumer to subject. Every process subscribing
// to the same subject shares the consumer, so deliveries are spread across
// workers rather than copied to each.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.inflight.Go(func() { q.dispatch(msg, handler) })
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, cc)
	q.mu.Unlock()
	return cc.Stop, nil
}

// dispatch runs handler and settles the delivery according to the error's
// disposition.
func (q *Queue) dispatch(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := context.Background()
	if hdr := msg.Headers(); hdr != nil {
		if id := hdr.Get(headerRequestID); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
	}
	subject := msg.Subject()

	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.ErrorContext(ctx, "invalid message, moving to dlq", "subject", subject, "error", err)
		q.moveToDLQ(ctx, msg)
		return
	}

	err := handler(ctx, subject, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "subject", subject, "error", ackErr)
		}
	case messagequeue.IsPermanent(err):
		slog.WarnContext(ctx, "message dropped", "subject", subject, "error", err)
		if termErr := msg.TermWithReason(err.Error()); termErr != nil {
			slog.ErrorContext(ctx, "nats term failed", "subject", subject, "error", termErr)
		}
	default:
		delay, _ := messagequeue.RetryDelay(err)
		slog.WarnContext(ctx, "message handler failed, redelivering", "subject", subject, "delay", delay, "error", err)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			slog.ErrorContext(ctx, "nats nak failed", "subject", subject, "error", nakErr)
		}
	}
}

// moveToDLQ copies an undeliverable message to <subject>.dlq and terminates
// the original delivery.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg) {
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: msg.Headers()}
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.ErrorContext(ctx, "dlq publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "subject", msg.Subject(), "error", err)
	}
}

// KeyValue returns a JetStream KV bucket, creating it if needed.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain stops all consumers and drains the connection. In-flight handlers
// finish; no new messages are delivered.
func (q *Queue) Drain() error {
	q.mu.Lock()
	for _, cc := range q.subs {
		cc.Drain()
	}
	q.subs = nil
	q.mu.Unlock()
	q.inflight.Wait()

	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func durableName(subject string) string {
	r := strings.NewReplacer(".", "-", "*", "any", ">", "all")
	return "concierge-" + r.Replace(subject)
}
