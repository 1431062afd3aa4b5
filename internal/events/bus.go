// Package events delivers dashboard state snapshots to SSE subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/hearthlabs/homehub/internal/models"
)

// subBufferSize is how many snapshots a subscriber may lag behind.
const subBufferSize = 8

type subscriber struct {
	ch      chan models.State
	dropped int
}

// Bus fans state snapshots out to subscribers without ever blocking the
// publisher. Every snapshot is the complete state, so a subscriber that
// falls behind loses its oldest pending snapshot and always ends up with
// the latest one.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe registers id and returns its snapshot channel. Subscribing an
// id twice replaces the earlier channel, which is closed. On a closed bus
// the returned channel is already closed.
func (b *Bus) Subscribe(id string) <-chan models.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.State, subBufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	b.subs[id] = &subscriber{ch: ch}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
		if sub.dropped > 0 {
			slog.Debug("events: subscriber lagged", "id", id, "dropped", sub.dropped)
		}
	}
}

// Publish sends a state snapshot to all subscribers.
func (b *Bus) Publish(state models.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- state:
			continue
		default:
		}
		// full: make room by discarding the oldest snapshot
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
		select {
		case sub.ch <- state:
		default:
			sub.dropped++
		}
	}
}

// Close ends every subscription. Later subscriptions are closed at once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
