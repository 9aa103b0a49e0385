// Package observable holds the latest value of something and notifies
// listeners synchronously whenever a new value is published.
package observable

import "sync"

// Listener receives every published value.
type Listener[T any] func(T)

type entry[T any] struct {
	id      uint64
	fn      Listener[T]
	removed bool
}

// Publisher is a multi-listener value holder. The zero value is ready to use.
type Publisher[T any] struct {
	mu        sync.Mutex
	listeners []*entry[T]
	nextID    uint64
	latest    T
	hasValue  bool
}

// New creates a publisher seeded with an initial value.
func New[T any](initial T) *Publisher[T] {
	return &Publisher[T]{latest: initial, hasValue: true}
}

// Publish stores v and calls each registered listener in registration order.
// Listeners added during the cycle are not called in it; listeners removed
// during the cycle are skipped if not yet reached.
func (p *Publisher[T]) Publish(v T) {
	p.mu.Lock()
	p.latest = v
	p.hasValue = true
	snapshot := make([]*entry[T], len(p.listeners))
	copy(snapshot, p.listeners)
	p.mu.Unlock()

	for _, e := range snapshot {
		p.mu.Lock()
		removed := e.removed
		p.mu.Unlock()
		if removed {
			continue
		}
		e.fn(v)
	}
}

// Subscribe registers l and returns a func that unregisters it. The returned
// func is idempotent.
func (p *Publisher[T]) Subscribe(l Listener[T]) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	e := &entry[T]{id: p.nextID, fn: l}
	p.listeners = append(p.listeners, e)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if e.removed {
			return
		}
		e.removed = true
		for i, cur := range p.listeners {
			if cur.id == e.id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				break
			}
		}
	}
}

// Latest returns the most recently published value and whether one exists.
func (p *Publisher[T]) Latest() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasValue
}

// Len reports the number of registered listeners.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}
