// Package engine executes FableFlow scripts against a model backend while
// maintaining durable session state. The Runner drives nodes, the node
// executor drives steps, and steps drive the model client; results flow back
// up through the append-only context store.
package engine

import (
	"time"
)

// EventKind identifies the type of event emitted by the engine.
type EventKind string

const (
	// EventRunStarted is emitted when a session run begins (fresh or resumed).
	EventRunStarted EventKind = "run.started"

	// EventNodeEntered is emitted when the runner enters a node.
	EventNodeEntered EventKind = "node.entered"

	// EventNodeCompleted is emitted when a node (including its loop) finishes.
	EventNodeCompleted EventKind = "node.completed"

	// EventStepStarted is emitted when a step execution begins.
	EventStepStarted EventKind = "step.started"

	// EventStepCompleted is emitted when a step's model reply is committed.
	EventStepCompleted EventKind = "step.completed"

	// EventLoopIterated is emitted when a conditional loop continues.
	EventLoopIterated EventKind = "loop.iterated"

	// EventLoopBoundExceeded is emitted once per loop run when maxIterations
	// forces termination.
	EventLoopBoundExceeded EventKind = "loop.bound_exceeded"

	// EventPolicyViolation is emitted when a loop-judgment reply does not
	// match the YES/NO grammar. Recoverable; the loop stops.
	EventPolicyViolation EventKind = "policy.violation"

	// EventInputRequested is emitted when a step waits for player input.
	EventInputRequested EventKind = "input.requested"

	// EventRunSuspended is emitted when the run pauses at a committed
	// step boundary (explicit suspend or cancellation).
	EventRunSuspended EventKind = "run.suspended"

	// EventRunCompleted is emitted when the final node finishes.
	EventRunCompleted EventKind = "run.completed"

	// EventRunFailed is emitted on an unrecoverable error.
	EventRunFailed EventKind = "run.failed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during a run.
// Events should be kept small; the context store holds the full transcript.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this session run.
	RunID string

	// NodeID is the node that produced this event (empty for run-level events).
	NodeID string

	// StepID is the step that produced this event (empty above step level).
	StepID string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run started.
	Elapsed time.Duration

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// Payload contains event-specific data.
	Payload map[string]any

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the node on the event.
func (e Event) WithNode(nodeID string) Event {
	e.NodeID = nodeID
	return e
}

// WithStep sets the node and step on the event.
func (e Event) WithStep(nodeID, stepID string) Event {
	e.NodeID = nodeID
	e.StepID = stepID
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events. The runner provides
// one emitter per run; executors share it.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as enriching events with trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the engine to
// distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
