// Package bus is a small in-process publish/subscribe bus. The role
// cache and WebSocket hub subscribe to it; the hosting application
// wires platform signals (logout, auth change, focus) to publishes,
// keeping the subscribers platform-agnostic.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Well-known topics.
const (
	// TopicClearUserCache asks user-scoped caches to drop their data.
	// Payload: "user_id" (empty string means every user).
	TopicClearUserCache = "user.cache.clear"

	// TopicSessionFocus marks cached auth data stale without dropping
	// it, forcing a refetch on next access.
	TopicSessionFocus = "session.focus"

	// TopicTradeRecorded announces a newly journaled trade.
	TopicTradeRecorded = "trade.recorded"

	// TopicProgressUpdated announces a settled lesson-progress change.
	TopicProgressUpdated = "progress.updated"
)

// Handler receives a published event's payload.
type Handler func(data map[string]interface{})

// Bus dispatches events synchronously to subscribers, in subscription
// order. Handlers must not block; long work belongs in a goroutine on
// the subscriber's side.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish delivers data to every subscriber of the topic.
func (b *Bus) Publish(topic string, data map[string]interface{}) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	slog.Debug("event published",
		"topic", topic,
		"subscribers", len(handlers),
		"at", time.Now().UTC(),
	)

	for _, h := range handlers {
		h(data)
	}
}
