// Package event provides the topic-based bus that carries engine events
// (debugger stopped, resuming, breakpoint updated) to the debug services.
//
// Delivery is synchronous and in publish order: the scripting engine's
// debugger raises events from a single thread and the subscribers depend
// on seeing them in that order.
package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Topic identifies an event stream.
type Topic string

// Engine event topics.
const (
	// TopicDebuggerStopped is published when the engine halts at a
	// breakpoint, step boundary, or break request.
	TopicDebuggerStopped Topic = "debugger.stopped"

	// TopicDebuggerResuming is published when the engine is about to
	// resume execution.
	TopicDebuggerResuming Topic = "debugger.resuming"

	// TopicBreakpointUpdated is published when the engine changes a
	// breakpoint on its own (set, removed, enabled, disabled).
	TopicBreakpointUpdated Topic = "breakpoint.updated"

	// TopicRunspaceChanged is published when the active runspace is
	// pushed, popped, or permanently gone.
	TopicRunspaceChanged Topic = "runspace.changed"
)

// Handler processes a published event.
type Handler func(ctx context.Context, evt any)

// Subscription represents a registered handler. Cancel removes it.
type Subscription struct {
	id    int64
	topic Topic
	bus   *Bus
}

// Cancel removes the subscription from the bus. Safe to call twice.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s)
}

// Topic returns the topic this subscription listens to.
func (s *Subscription) Topic() Topic {
	return s.topic
}

type subscriber struct {
	id      int64
	handler Handler
}

// Bus dispatches events to subscribers, synchronously and in order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscriber
	nextID atomic.Int64

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Topic][]subscriber),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return &Subscription{id: id, topic: topic, bus: b}
}

// Publish delivers an event to every subscriber of the topic. Handlers
// run on the caller's goroutine; a handler that blocks delays the rest.
func (b *Bus) Publish(ctx context.Context, topic Topic, evt any) {
	b.published.Add(1)

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ctx, evt)
		b.delivered.Add(1)
	}
}

// Stats reports bus activity counters.
func (b *Bus) Stats() (published, delivered uint64) {
	return b.published.Load(), b.delivered.Load()
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}
