// Package eventbus fans domain events out to loggers and transports.
package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"glass-server-go/internal/platform/logging"
)

// Bus combines a synchronous bus with a worker pool for async delivery.
// Handlers take a single event data argument.
type Bus struct {
	sync  evbus.Bus
	async *AsyncEventBus

	mu     sync.Mutex
	closed bool
}

func New(workers int, logger *logging.Logger) *Bus {
	b := &Bus{
		sync:  evbus.New(),
		async: NewAsyncEventBus(workers, logger),
	}
	b.async.Start()
	return b
}

// Publish delivers data to the synchronous subscribers of topic.
func (b *Bus) Publish(topic string, data any) {
	b.sync.Publish(topic, data)
}

// PublishAsync queues delivery to the async subscribers of topic.
func (b *Bus) PublishAsync(topic string, data any) {
	b.async.PublishAsync(topic, data)
}

// Subscribe registers fn on the synchronous bus.
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.sync.Subscribe(topic, fn)
}

// SubscribeAsync registers fn for events published with PublishAsync.
func (b *Bus) SubscribeAsync(topic string, fn any) error {
	return b.async.Subscribe(topic, fn)
}

func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.sync.Unsubscribe(topic, fn)
}

func (b *Bus) UnsubscribeAsync(topic string, fn any) error {
	return b.async.Unsubscribe(topic, fn)
}

// Emit publishes on both buses.
func (b *Bus) Emit(topic string, data any) {
	if b == nil {
		return
	}
	b.Publish(topic, data)
	b.PublishAsync(topic, data)
}

// Wait blocks until every queued async event has been handled.
func (b *Bus) Wait() {
	b.async.WaitAsync()
}

func (b *Bus) Dropped() int64 {
	return b.async.Dropped()
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.async.Stop()
}
