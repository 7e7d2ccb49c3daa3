// Package events is a typed publish/subscribe bus used to fan topology
// updates out to streaming clients.
package events

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans out values of type T to every subscriber. Each subscriber reads
// from its own buffered channel; a full channel drops the value for that
// subscriber only, so one slow client never blocks the publisher.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[string]chan T
	buffer  int
	dropped map[string]int
	logger  *slog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus[T any](buffer int, logger *slog.Logger) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[T]{
		subs:    make(map[string]chan T),
		buffer:  buffer,
		dropped: make(map[string]int),
		logger:  logger,
	}
}

// Subscribe registers id and returns its channel. Subscribing an id that
// is already registered replaces the previous channel, which is closed.
func (b *Bus[T]) Subscribe(id string) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan T, b.buffer)
	b.subs[id] = ch
	b.logger.Debug("events: subscribed", "subscriber", id, "total", len(b.subs))
	return ch
}

// Unsubscribe removes id and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
		delete(b.dropped, id)
		b.logger.Debug("events: unsubscribed", "subscriber", id, "remaining", len(b.subs))
	}
}

// Publish delivers v to every subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped[id]++
			b.logger.Warn("events: dropping event for slow subscriber",
				"subscriber", id,
				"dropped", b.dropped[id],
			)
		}
	}
}

// Count returns the number of subscribers.
func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
