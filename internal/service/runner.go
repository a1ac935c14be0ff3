package service

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
)

// Runner bounds how many envelopes are processed at once across the bus and
// HTTP paths. Bus subscribers call Handle from their own worker goroutines;
// HTTP deliveries are detached through Go.
type Runner struct {
	handler eventbus.Handler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewRunner creates a runner admitting at most concurrency envelopes.
func NewRunner(handler eventbus.Handler, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{handler: handler, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Handle waits for a slot and processes env in the caller's goroutine.
func (r *Runner) Handle(ctx context.Context, env runtask.Envelope) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return r.handler(ctx, env)
}

// Go processes env in the background if a slot is free. It reports false when
// the runner is saturated. The work is detached from ctx cancellation but
// keeps its values.
func (r *Runner) Go(ctx context.Context, env runtask.Envelope) bool {
	if !r.sem.TryAcquire(1) {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		bg := context.WithoutCancel(ctx)
		if err := r.handler(bg, env); err != nil {
			slog.ErrorContext(bg, "envelope processing failed", "event_id", env.ID, "error", err)
		}
	}()
	return true
}

// Wait blocks until every detached envelope has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
