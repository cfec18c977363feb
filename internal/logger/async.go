package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncSink is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type asyncSink struct {
	ch        chan queued
	wg        sync.WaitGroup
	dropped   atomic.Int64
	closeOnce sync.Once
}

// queued pairs a record with the handler chain it was logged through.
type queued struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to a small pool of writers so logging never
// blocks a request or a job delivery. Records that do not fit the buffer
// are dropped and counted.
type AsyncHandler struct {
	inner slog.Handler
	sink  *asyncSink
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	sink := &asyncSink{ch: make(chan queued, chanSize)}
	for range max(workers, 1) {
		sink.wg.Go(func() {
			for q := range sink.ch {
				_ = q.h.Handle(context.Background(), q.rec)
			}
		})
	}
	return &AsyncHandler{inner: inner, sink: sink}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of the record, or drops it when the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.sink.ch <- queued{h: h.inner, rec: rec.Clone()}:
	default:
		h.sink.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same writers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), sink: h.sink}
}

// WithGroup returns a handler sharing the same writers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), sink: h.sink}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.sink.dropped.Load()
}

// Close drains the buffer and waits for the writers. If anything was
// dropped, one final warning with the count is written synchronously.
// Further calls are no-ops.
func (h *AsyncHandler) Close() {
	h.sink.closeOnce.Do(func() {
		close(h.sink.ch)
		h.sink.wg.Wait()

		if n := h.sink.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
