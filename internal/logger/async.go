package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log records on shutdown.
type Closer interface {
	Close() error
}

// nopCloser is returned in synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// AsyncHandler decouples record emission from encoding and IO so that
// logging never blocks a lifecycle or handoff path. Records are queued
// on a bounded channel and written by background workers; when the queue
// is full the record is counted and discarded rather than blocking the
// caller.
type AsyncHandler struct {
	sink slog.Handler
	q    *logQueue
}

// logQueue is the shared state behind a handler and all handlers derived
// from it via WithAttrs or WithGroup.
type logQueue struct {
	ch        chan queued
	workers   sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Int64
}

// queued carries the record together with the derived handler it was
// emitted through, so attributes and groups survive the queue.
type queued struct {
	sink slog.Handler
	rec  slog.Record
}

// NewAsyncHandler starts workers draining a queue of the given capacity
// into inner.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	q := &logQueue{ch: make(chan queued, capacity)}
	for range workers {
		q.workers.Add(1)
		go q.drain()
	}
	return &AsyncHandler{sink: inner, q: q}
}

func (q *logQueue) drain() {
	defer q.workers.Done()
	for e := range q.ch {
		_ = e.sink.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.sink.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.q.ch <- queued{sink: h.sink, rec: rec}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares the queue; its records keep
// the added attributes.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{sink: h.sink.WithAttrs(attrs), q: h.q}
}

// WithGroup derives a handler that shares the queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{sink: h.sink.WithGroup(name), q: h.q}
}

// DroppedCount returns how many records overflowed the queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the queue and stops the workers. When records were
// dropped, a final synchronous record reports how many, so overflow is
// visible in the log stream itself. Close is safe to call repeatedly.
func (h *AsyncHandler) Close() error {
	h.q.closeOnce.Do(func() { close(h.q.ch) })
	h.q.workers.Wait()

	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log queue overflowed, records were discarded", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		return h.sink.Handle(context.Background(), rec)
	}
	return nil
}
