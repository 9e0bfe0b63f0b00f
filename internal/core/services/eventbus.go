package services

import (
	"log/slog"
	"sync"
)

type EventType string

// Event is a serialized notification routed by key (a run ID or "trace:<id>").
type Event struct {
	Key       string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

// EventBus fans events out to per-key subscribers.
// Publishing never blocks: a full subscriber buffer drops the event.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for key, and its unsubscribe func.
func (b *EventBus) Subscribe(key string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[key] = append(b.subs[key], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[key]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of its key
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.Key] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "key", e.Key, "type", string(e.Type))
		}
	}
}

// SubscriberCount reports how many subscribers listen on key.
func (b *EventBus) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
