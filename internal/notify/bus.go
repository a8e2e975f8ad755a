// Package notify implements the synchronous notification bus that carries
// engine state-change snapshots to external consumers.
package notify

import (
	"context"
	"sync"

	"marketReplay/internal/ports"
)

// Bus is a synchronous, in-process implementation of ports.EventBus.
//
// Publish delivers every event on the caller's goroutine, in subscription
// order, before returning. That keeps the single-writer tick sequencing
// intact: a tick is not complete until every consumer has seen its events.
// Events must carry value snapshots, never live references.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[ports.Topic][]subscription
	logger ports.Logger
}

type subscription struct {
	id      int
	handler ports.EventHandler
}

// NewBus creates a new notification bus. The logger is optional.
func NewBus(logger ports.Logger) *Bus {
	return &Bus{
		subs:   make(map[ports.Topic][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic ports.Topic, handler ports.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, sub := range list {
			if sub.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to all handlers of its topic before returning.
func (b *Bus) Publish(ctx context.Context, event ports.Event) {
	b.mu.RLock()
	list := b.subs[event.Topic()]
	handlers := make([]ports.EventHandler, len(list))
	for i, sub := range list {
		handlers[i] = sub.handler
	}
	b.mu.RUnlock()

	if b.logger != nil && len(handlers) > 0 {
		b.logger.Debug(ctx, "Publishing event", map[string]interface{}{"topic": string(event.Topic()), "subscribers": len(handlers)})
	}
	for _, h := range handlers {
		h(ctx, event)
	}
}
