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

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by every handler derived from one AsyncHandler.
type asyncQueue struct {
	ch      chan slog.Record
	wg      sync.WaitGroup
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
}

// AsyncHandler hands records to background writers over a bounded queue.
// Records are dropped, never blocked on, when the queue is full; fulfillment
// goroutines must not stall behind a slow stdout.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and writer count.
func NewAsyncHandler(inner slog.Handler, queueSize, writers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan slog.Record, queueSize)}
	h := &AsyncHandler{inner: inner, q: q}
	for range writers {
		q.wg.Add(1)
		go h.write()
	}
	return h
}

func (h *AsyncHandler) write() {
	defer h.q.wg.Done()
	for rec := range h.q.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of rec. Records arriving after Close are counted as dropped.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- rec.Clone():
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of records lost to a full queue or a closed handler.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the queue, waits for the writers and reports any drops
// through the inner handler. It is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		h.q.mu.Lock()
		h.q.closed = true
		close(h.q.ch)
		h.q.mu.Unlock()
		h.q.wg.Wait()
		if n := h.q.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
