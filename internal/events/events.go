package events

import (
	"sync"
	"time"
)

// Kind identifies an event emitted by the connection runtime.
type Kind string

const (
	// Ready - connection handshake and authentication both completed
	Ready Kind = "ready"
	// Connected - transport handshake completed
	Connected Kind = "connected"
	// Authorized - session authentication completed
	Authorized Kind = "authorized"
	// Reconnecting - connection lost, reconnect scheduled
	Reconnecting Kind = "reconnecting"
	// Closed - connection closed
	Closed Kind = "close"
	// Failed - connection-level error
	Failed Kind = "error"
)

// RetryInfo describes the backoff state attached to Reconnecting events.
type RetryInfo struct {
	Attempt int
	Delay   time.Duration
}

// Event is the fixed payload shape for every event kind. Fields not relevant
// to a given kind are zero.
type Event struct {
	Kind         Kind
	ConnectionID string
	Endpoint     string
	Retry        RetryInfo
	Err          error
	At           time.Time
}

// Handler receives events. Handlers must not block; the bus dispatches
// synchronously on the emitter's goroutine.
type Handler func(Event)

// Bus is an explicit observer list with typed subscription, replacing
// implicit listener arrays on shared objects.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a token for Unsubscribe.
func (b *Bus) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a previously registered handler. Unknown tokens are a no-op.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, token)
}

// Emit delivers the event to every subscriber. The timestamp is filled in
// when the caller left it zero.
func (b *Bus) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
