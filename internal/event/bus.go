// Package event provides the in-memory publish/subscribe bus that carries
// detector events to the history store, the WebSocket stream and logs.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topics published by the isolation detector.
const (
	TopicAlarmTransition = "isolation.alarm.transition"
	TopicZoneImpact      = "isolation.zone.impact"
	TopicTickDegraded    = "isolation.tick.degraded"
)

// Event is one message on the bus. Payload type depends on Topic.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	PublishAsync(ctx context.Context, event Event)
}

// Bus is an in-memory event bus. Publish runs handlers in the caller's
// goroutine; PublishAsync runs each handler in its own goroutine. A
// panicking handler is logged and does not affect the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	all      []entry
	nextID   uint64
	logger   *zap.Logger
}

var _ Publisher = (*Bus)(nil)

type entry struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]entry),
		logger:   logger,
	}
}

// Publish dispatches event synchronously.
func (b *Bus) Publish(ctx context.Context, event Event) {
	for _, h := range b.matching(event.Topic) {
		b.safeCall(ctx, h, event)
	}
}

// PublishAsync dispatches event without waiting for handlers.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	for _, h := range b.matching(event.Topic) {
		go b.safeCall(ctx, h, event)
	}
}

// Subscribe registers handler for topic and returns its unsubscribe function.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], entry{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = without(b.handlers[topic], id)
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all = append(b.all, entry{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

func (b *Bus) matching(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[topic])+len(b.all))
	for _, e := range b.handlers[topic] {
		out = append(out, e.handler)
	}
	for _, e := range b.all {
		out = append(out, e.handler)
	}
	return out
}

func without(entries []entry, id uint64) []entry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
