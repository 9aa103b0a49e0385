package agent

import (
	"context"
	"fmt"
	"sync"
)

// Lock runs one unit of work at a time. Waiters are served strictly in
// arrival order, and a finishing unit hands the lock directly to the next
// waiter.
type Lock struct {
	mu      sync.Mutex
	running bool
	waiters []chan struct{}
}

func NewLock() *Lock {
	return &Lock{}
}

// Acquire blocks until the caller owns the lock or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.running = true
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// handed off concurrently with cancellation; pass it on
		l.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, or marks it free.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		panic("agent: release of unlocked Lock")
	}
	if len(l.waiters) == 0 {
		l.running = false
		return
	}
	next := l.waiters[0]
	l.waiters[0] = nil
	l.waiters = l.waiters[1:]
	close(next)
}

// Run executes fn while holding the lock. A panic in fn is converted into
// an error after the lock has been handed on.
func (l *Lock) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent: locked task panicked: %v", r)
		}
		l.Release()
	}()
	return fn(ctx)
}

// Pending returns the number of queued waiters.
func (l *Lock) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Busy reports whether a unit of work holds the lock.
func (l *Lock) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
