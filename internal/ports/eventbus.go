// Package ports define the EventBus interface for event-driven communication.
// The event bus replaces widget callbacks and enables loose coupling between components.
package ports

import (
	"github.com/tejashwikalptaru/encore/internal/domain"
)

// EventBus is the interface for publishing and subscribing to events.
//
// The event bus decouples event producers (engine, store) from event consumers
// (orchestrator, remote surfaces, logging). Multiple subscribers can listen to the
// same event, and subscribers don't know about publishers.
//
// Thread-safety: Implementations must be thread-safe as events may be published and
// subscribed from multiple goroutines simultaneously.
//
// Example usage:
//
//	// In a service: Publish an event
//	bus.Publish(domain.NewEngineReadyEvent())
//
//	// In a consumer: Subscribe to events
//	subID := bus.Subscribe(domain.EventStateChanged, func(event domain.Event) {
//	    e := event.(domain.StateChangedEvent)
//	    render(e.State)
//	})
//
//	// Later: Unsubscribe
//	bus.Unsubscribe(subID)
type EventBus interface {
	// Publish sends an event to all subscribers of that event type.
	// Handlers run synchronously, in subscription order, before Publish returns.
	Publish(event domain.Event)

	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID

	// Unsubscribe removes a previously registered handler. Unknown ids are ignored.
	Unsubscribe(id domain.SubscriptionID)

	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler domain.EventHandler) domain.SubscriptionID

	// HasSubscribers reports whether anyone listens to the event type.
	HasSubscribers(eventType domain.EventType) bool

	// Close clears all subscriptions. Publishing afterwards is a no-op.
	Close() error
}
