// Package bus provides an event distribution system for FableFlow session
// execution. It allows components to publish and subscribe to engine events,
// enabling decoupled communication between the runner and observers such as
// loggers, UIs, and persistence.
package bus

import "github.com/fable-labs/fableflow/engine"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event engine.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan engine.Event

	// Close unsubscribes and releases resources.
	Close() error
}
