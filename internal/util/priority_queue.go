package util

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var (
	ErrPriorityQueueClosed = errors.New("priority queue closed")
	ErrPriorityQueueEmpty  = errors.New("priority queue empty")
)

// PriorityItem is a queued value. Items of equal priority pop in push order.
type PriorityItem[T any] struct {
	Value    T
	Priority int // Higher number means higher priority
	seq      uint64
	index    int
}

type itemHeap[T any] []*PriorityItem[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	item := x.(*PriorityItem[T])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a blocking, concurrency-safe priority queue.
type PriorityQueue[T any] struct {
	mu     sync.Mutex
	items  itemHeap[T]
	seq    uint64
	closed bool
	// ready is closed and replaced whenever an item is pushed or the queue
	// closes, waking blocked poppers.
	ready chan struct{}
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{ready: make(chan struct{})}
}

// PushItem adds value with the given priority.
func (pq *PriorityQueue[T]) PushItem(value T, priority int) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.closed {
		return ErrPriorityQueueClosed
	}
	pq.seq++
	heap.Push(&pq.items, &PriorityItem[T]{Value: value, Priority: priority, seq: pq.seq})
	pq.wakeLocked()
	return nil
}

// TryPop returns the highest priority item without blocking.
func (pq *PriorityQueue[T]) TryPop() (T, error) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.popLocked()
}

// PopItem blocks until an item is available, the queue closes or ctx ends.
// Items still queued after Close are drained before ErrPriorityQueueClosed.
func (pq *PriorityQueue[T]) PopItem(ctx context.Context) (T, error) {
	for {
		pq.mu.Lock()
		v, err := pq.popLocked()
		if err == nil || pq.closed {
			pq.mu.Unlock()
			return v, err
		}
		ready := pq.ready
		pq.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (pq *PriorityQueue[T]) popLocked() (T, error) {
	var zero T
	if len(pq.items) == 0 {
		if pq.closed {
			return zero, ErrPriorityQueueClosed
		}
		return zero, ErrPriorityQueueEmpty
	}
	return heap.Pop(&pq.items).(*PriorityItem[T]).Value, nil
}

func (pq *PriorityQueue[T]) wakeLocked() {
	close(pq.ready)
	pq.ready = make(chan struct{})
}

// Drain removes and returns every queued value in pop order.
func (pq *PriorityQueue[T]) Drain() []T {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	out := make([]T, 0, len(pq.items))
	for len(pq.items) > 0 {
		out = append(out, heap.Pop(&pq.items).(*PriorityItem[T]).Value)
	}
	return out
}

func (pq *PriorityQueue[T]) Close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.closed {
		return
	}
	pq.closed = true
	pq.wakeLocked()
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.Len() == 0
}
