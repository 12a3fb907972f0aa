package otel

import (
	"github.com/fable-labs/fableflow/engine"
)

// EmitterDecorator adapts EnrichEmitter to the engine's decorator hook:
// pass it as engine.Config.EmitterDecorator alongside tracing.Handle as the
// event handler so live events carry trace and span IDs.
func EmitterDecorator(tracing *TracingHandler) engine.EventEmitterDecorator {
	return func(next engine.EventEmitter) engine.EventEmitter {
		return EnrichEmitter(next, tracing)
	}
}

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// When events are emitted, it looks up the active span from the TracingHandler
// and populates the TraceID and SpanID fields on the event.
//
// The innermost active span wins: step span first, then node span, then the
// run-level span. When no span is active, the event passes through unchanged.
func EnrichEmitter(emit engine.EventEmitter, tracing *TracingHandler) engine.EventEmitter {
	return func(e engine.Event) {
		if e.StepID != "" {
			sc := tracing.ActiveStepSpanContext(e.RunID, e.NodeID, e.StepID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.NodeID != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.NodeID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}
