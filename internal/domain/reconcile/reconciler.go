// Package reconcile runs an idempotent sync function whenever its inputs are
// invalidated, coalescing bursts of invalidations into a single extra run.
package reconcile

import (
	"context"
	"sync"
	"time"

	"glass-server-go/internal/platform/logging"
)

// Func brings derived state in line with its source. It must be idempotent.
type Func func(ctx context.Context) error

// Reconciler runs Func at most once at a time. An Invalidate during a run
// schedules exactly one follow-up run.
type Reconciler struct {
	fn       Func
	debounce time.Duration
	logger   *logging.Logger

	mu        sync.Mutex
	running   bool
	pending   bool
	scheduled bool
	closed    bool
	timer     *time.Timer
	idle      *sync.Cond
	runs      uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithDebounce delays each scheduled run by d so bursts collapse into one.
func WithDebounce(d time.Duration) Option {
	return func(r *Reconciler) { r.debounce = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(fn Func, opts ...Option) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{fn: fn, ctx: ctx, cancel: cancel}
	r.idle = sync.NewCond(&r.mu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate guarantees fn runs again soon. It never blocks on fn.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.running {
		r.pending = true
		return
	}
	if r.scheduled {
		return
	}
	r.schedule()
}

// schedule starts a run, possibly after the debounce delay. Caller holds mu.
func (r *Reconciler) schedule() {
	r.scheduled = true
	if r.debounce > 0 {
		r.timer = time.AfterFunc(r.debounce, r.loop)
		return
	}
	go r.loop()
}

func (r *Reconciler) loop() {
	r.mu.Lock()
	r.timer = nil
	if r.closed {
		r.scheduled = false
		r.idle.Broadcast()
		r.mu.Unlock()
		return
	}
	r.scheduled = false
	r.running = true
	r.mu.Unlock()

	for {
		if err := r.fn(r.ctx); err != nil {
			r.logger.ErrorTag("Resync", "reconcile failed: %v", err)
		}

		r.mu.Lock()
		r.runs++
		if r.pending && !r.closed {
			r.pending = false
			if r.debounce > 0 {
				r.running = false
				r.schedule()
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			continue
		}
		r.pending = false
		r.running = false
		r.idle.Broadcast()
		r.mu.Unlock()
		return
	}
}

// Runs returns how many times fn has completed.
func (r *Reconciler) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Wait blocks until no run is scheduled or in flight.
func (r *Reconciler) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.running || r.scheduled {
		r.idle.Wait()
	}
}

// Close stops scheduling new runs, cancels the context handed to fn and
// waits for the run in flight.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.pending = false
	if r.timer != nil && r.timer.Stop() {
		r.timer = nil
		r.scheduled = false
	}
	r.mu.Unlock()

	r.cancel()
	r.Wait()
}
