package sdk

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies one of the four stream events.
type EventType string

const (
	// EventOpen fires each time a socket opens, including after a reconnect
	EventOpen EventType = "open"
	// EventClose fires each time a socket closes, with the close code and text
	EventClose EventType = "close"
	// EventError fires when a socket fails or a frame cannot be decoded.
	// The platform drops its sockets periodically and that also arrives here.
	EventError EventType = "error"
	// EventMessage fires for every console message
	EventMessage EventType = "message"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOpen, EventClose, EventError, EventMessage:
		return true
	}
	return false
}

// Event is delivered to stream handlers. Which fields are set depends on Type.
type Event struct {
	Type EventType
	// Code and Text are the close code and reason for EventClose
	Code int
	Text string
	// Err is set for EventError
	Err error
	// Payload is the unwrapped message for EventMessage
	Payload json.RawMessage
	// Time is when the event was emitted
	Time time.Time
}

// Handler receives stream events.
type Handler func(Event)

// eventBus fans events out to subscribers in registration order.
// Subscribers are append-only, so a snapshot of the slice header taken
// under the lock is stable for the whole emission.
type eventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[EventType][]Handler)}
}

func (b *eventBus) subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *eventBus) count(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
