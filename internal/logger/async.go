package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler variant that accepted it, so
// WithAttrs/WithGroup context survives the queue.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// asyncCore is the queue and worker pool shared by an AsyncHandler and all
// its WithAttrs/WithGroup derivatives.
type asyncCore struct {
	ch      chan entry
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

// AsyncHandler decouples log emission from IO: records are queued and
// written by background workers. Enqueueing never blocks the caller; when
// the queue is full, records are counted and dropped.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and
// worker count.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan entry, queueSize)}
	for range workers {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			for e := range core.ch {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, core: core}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the queue is full. After Close,
// records are written synchronously.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.core.closed.Load() {
		return h.inner.Handle(context.Background(), rec)
	}
	select {
	case h.core.ch <- entry{h: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing this one's queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup returns a handler sharing this one's queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the queue and blocks until the workers drain the backlog.
// Safe to call once per core; derivatives share the same Close.
func (h *AsyncHandler) Close() {
	if h.core.closed.CompareAndSwap(false, true) {
		close(h.core.ch)
		h.core.wg.Wait()
	}
}
