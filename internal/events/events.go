package events

import (
	"sync"
	"time"
)

// Event types published after successful appointment mutations.
const (
	AppointmentCreated   = "appointment.created"
	AppointmentUpdated   = "appointment.updated"
	AppointmentDeleted   = "appointment.deleted"
	AppointmentCancelled = "appointment.cancelled"
)

// MutationTypes lists every appointment mutation event.
var MutationTypes = []string{
	AppointmentCreated,
	AppointmentUpdated,
	AppointmentDeleted,
	AppointmentCancelled,
}

// Event represents a lightweight domain event.
type Event struct {
	Type           string
	AppointmentIDs []string
	CreatedAt      time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Handlers run synchronously; caller decides concurrency model.
	for _, handler := range handlers {
		handler(event)
	}
}
