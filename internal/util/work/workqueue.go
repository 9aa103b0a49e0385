package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"glass-server-go/internal/util"
)

var (
	ErrWorkQueueClosed = errors.New("work queue closed")
	ErrMaxRetries      = errors.New("max retries exceeded")
)

// WorkItem is a unit of work with retry bookkeeping.
type WorkItem[T any] struct {
	Data       T
	Priority   int
	Retries    int
	MaxRetries int
	LastError  error
	CreatedAt  time.Time
}

// WorkHandler processes one item.
type WorkHandler[T any] func(ctx context.Context, item T) error

// FailureHandler is told about items that exhausted their retries.
type FailureHandler[T any] func(item *WorkItem[T], err error)

// Stats are cumulative queue counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Discarded int64 `json:"discarded"`
}

// WorkQueue runs items on a fixed set of workers, highest priority first
// and FIFO within a priority. With one worker items run strictly in order.
type WorkQueue[T any] struct {
	queue     *util.PriorityQueue[*WorkItem[T]]
	handler   WorkHandler[T]
	onFailure FailureHandler[T]
	backoff   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	// inflight counts submitted items not yet finished.
	inflight int
	idle     *sync.Cond

	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	discarded atomic.Int64
}

type Option[T any] func(*WorkQueue[T])

// WithBackoff sets the base retry delay; the nth retry waits n*d, capped at
// one minute.
func WithBackoff[T any](d time.Duration) Option[T] {
	return func(wq *WorkQueue[T]) { wq.backoff = d }
}

func WithFailureHandler[T any](fn FailureHandler[T]) Option[T] {
	return func(wq *WorkQueue[T]) { wq.onFailure = fn }
}

func NewWorkQueue[T any](numWorkers int, handler WorkHandler[T], opts ...Option[T]) *WorkQueue[T] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	wq := &WorkQueue[T]{
		queue:   util.NewPriorityQueue[*WorkItem[T]](),
		handler: handler,
		backoff: time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
	wq.idle = sync.NewCond(&wq.mu)
	for _, opt := range opts {
		opt(wq)
	}

	for i := 0; i < numWorkers; i++ {
		wq.wg.Add(1)
		go wq.run()
	}
	return wq
}

func (wq *WorkQueue[T]) Submit(data T, priority int) error {
	return wq.SubmitWithRetries(data, priority, 0)
}

func (wq *WorkQueue[T]) SubmitWithRetries(data T, priority int, maxRetries int) error {
	wq.mu.Lock()
	if wq.stopped {
		wq.mu.Unlock()
		return ErrWorkQueueClosed
	}
	wq.inflight++
	wq.mu.Unlock()

	item := &WorkItem[T]{
		Data:       data,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
	if err := wq.queue.PushItem(item, priority); err != nil {
		wq.done()
		return ErrWorkQueueClosed
	}
	return nil
}

// Discard drops every item that has not started yet and returns how many.
func (wq *WorkQueue[T]) Discard() int {
	items := wq.queue.Drain()
	for range items {
		wq.discarded.Add(1)
		wq.done()
	}
	return len(items)
}

// Wait blocks until every submitted item has finished or been discarded.
func (wq *WorkQueue[T]) Wait() {
	wq.mu.Lock()
	for wq.inflight > 0 {
		wq.idle.Wait()
	}
	wq.mu.Unlock()
}

// Stop rejects new items, cancels the running ones and waits for workers.
func (wq *WorkQueue[T]) Stop() {
	wq.mu.Lock()
	if wq.stopped {
		wq.mu.Unlock()
		return
	}
	wq.stopped = true
	wq.mu.Unlock()

	wq.Discard()
	wq.cancel()
	wq.queue.Close()
	wq.wg.Wait()
}

func (wq *WorkQueue[T]) IsStopped() bool {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return wq.stopped
}

func (wq *WorkQueue[T]) GetStats() Stats {
	return Stats{
		Queued:    wq.queue.Len(),
		Processed: wq.processed.Load(),
		Failed:    wq.failed.Load(),
		Retried:   wq.retried.Load(),
		Discarded: wq.discarded.Load(),
	}
}

func (wq *WorkQueue[T]) done() {
	wq.mu.Lock()
	wq.inflight--
	if wq.inflight == 0 {
		wq.idle.Broadcast()
	}
	wq.mu.Unlock()
}

func (wq *WorkQueue[T]) run() {
	defer wq.wg.Done()
	for {
		item, err := wq.queue.PopItem(wq.ctx)
		if err != nil {
			return
		}
		wq.processItem(item)
		wq.done()
	}
}

func (wq *WorkQueue[T]) processItem(item *WorkItem[T]) {
	for {
		err := wq.handler(wq.ctx, item.Data)
		if err == nil {
			wq.processed.Add(1)
			return
		}

		item.LastError = err
		item.Retries++
		if item.Retries > item.MaxRetries || wq.ctx.Err() != nil {
			wq.failed.Add(1)
			if wq.onFailure != nil {
				wq.onFailure(item, errors.Join(ErrMaxRetries, err))
			}
			return
		}
		wq.retried.Add(1)

		backoff := time.Duration(item.Retries) * wq.backoff
		if backoff > time.Minute {
			backoff = time.Minute
		}
		select {
		case <-time.After(backoff):
		case <-wq.ctx.Done():
			wq.failed.Add(1)
			return
		}
	}
}
