// Package otel provides OpenTelemetry integration for FableFlow engine events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fable-labs/fableflow/engine"
)

// TracingHandler translates FableFlow engine events into OpenTelemetry spans.
// It maintains maps of active run, node, and step spans, creating and ending
// them based on event kind.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	nodeSpans map[string]trace.Span      // runID:nodeID -> span
	nodeCtxs  map[string]context.Context // runID:nodeID -> context
	stepSpans map[string]trace.Span      // runID:nodeID:stepID -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from engine events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
		nodeCtxs:  make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
	}
}

// Handle processes an engine event and creates or ends spans accordingly.
// It implements engine.EventHandler semantics.
func (h *TracingHandler) Handle(e engine.Event) {
	switch e.Kind {
	case engine.EventRunStarted:
		h.handleRunStarted(e)
	case engine.EventNodeEntered:
		h.handleNodeEntered(e)
	case engine.EventNodeCompleted:
		h.handleNodeCompleted(e)
	case engine.EventStepStarted:
		h.handleStepStarted(e)
	case engine.EventStepCompleted:
		h.handleStepCompleted(e)
	case engine.EventLoopIterated, engine.EventLoopBoundExceeded,
		engine.EventPolicyViolation, engine.EventInputRequested:
		h.handleAnnotation(e)
	case engine.EventRunCompleted:
		h.handleRunEnded(e, codes.Ok, "")
	case engine.EventRunSuspended:
		h.handleRunEnded(e, codes.Ok, "suspended")
	case engine.EventRunFailed:
		h.handleRunFailed(e)
	}
}

// handleRunStarted creates a root span for the run.
func (h *TracingHandler) handleRunStarted(e engine.Event) {
	workflow := stringPayload(e, "workflow")

	spanName := "run:" + e.RunID
	if workflow != "" {
		spanName = "run:" + workflow
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("fableflow.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	if workflow != "" {
		span.SetAttributes(attribute.String("fableflow.workflow", workflow))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleNodeEntered creates a child span under the run span.
func (h *TracingHandler) handleNodeEntered(e engine.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		parentCtx = context.Background()
	}

	ctx, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("fableflow.run_id", e.RunID),
			attribute.String("fableflow.node_id", e.NodeID),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.RunID + ":" + e.NodeID
	h.mu.Lock()
	h.nodeSpans[key] = span
	h.nodeCtxs[key] = ctx
	h.mu.Unlock()
}

// handleNodeCompleted ends the node span with success status.
func (h *TracingHandler) handleNodeCompleted(e engine.Event) {
	key := e.RunID + ":" + e.NodeID

	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
		delete(h.nodeCtxs, key)
	}
	h.mu.Unlock()

	if ok {
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleStepStarted creates a child span under the node span.
func (h *TracingHandler) handleStepStarted(e engine.Event) {
	nodeKey := e.RunID + ":" + e.NodeID

	h.mu.RLock()
	parentCtx, ok := h.nodeCtxs[nodeKey]
	h.mu.RUnlock()

	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "step:"+e.StepID,
		trace.WithAttributes(
			attribute.String("fableflow.run_id", e.RunID),
			attribute.String("fableflow.node_id", e.NodeID),
			attribute.String("fableflow.step_id", e.StepID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.stepSpans[stepKey(e)] = span
	h.mu.Unlock()
}

// handleStepCompleted ends the step span with success status.
func (h *TracingHandler) handleStepCompleted(e engine.Event) {
	key := stepKey(e)

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()

	if ok {
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleAnnotation adds a span event to the innermost active span.
func (h *TracingHandler) handleAnnotation(e engine.Event) {
	h.mu.RLock()
	span, ok := h.stepSpans[stepKey(e)]
	if !ok {
		span, ok = h.nodeSpans[e.RunID+":"+e.NodeID]
	}
	if !ok {
		span, ok = h.runSpans[e.RunID]
	}
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("fableflow.event_kind", string(e.Kind)),
	}
	if scope := stringPayload(e, "scope"); scope != "" {
		attrs = append(attrs, attribute.String("fableflow.loop_scope", scope))
	}

	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleRunFailed ends the run span (and any spans still open under it)
// with error status.
func (h *TracingHandler) handleRunFailed(e engine.Event) {
	errMsg := stringPayload(e, "error")
	if errMsg == "" {
		errMsg = "run failed"
	}

	h.mu.Lock()
	var orphans []trace.Span
	for key, span := range h.stepSpans {
		if keyRun(key) == e.RunID {
			orphans = append(orphans, span)
			delete(h.stepSpans, key)
		}
	}
	for key, span := range h.nodeSpans {
		if keyRun(key) == e.RunID {
			orphans = append(orphans, span)
			delete(h.nodeSpans, key)
			delete(h.nodeCtxs, key)
		}
	}
	runSpan, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	for _, span := range orphans {
		span.SetStatus(codes.Error, errMsg)
		span.End(trace.WithTimestamp(e.Time))
	}

	if ok {
		runSpan.SetStatus(codes.Error, errMsg)
		runSpan.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
		runSpan.End(trace.WithTimestamp(e.Time))
	}
}

// handleRunEnded ends the run span with the given status.
func (h *TracingHandler) handleRunEnded(e engine.Event, code codes.Code, status string) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if ok {
		if status != "" {
			span.SetAttributes(attribute.String("fableflow.status", status))
		}
		span.SetStatus(code, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// ActiveStepSpanContext returns the SpanContext for the active step span.
// Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveStepSpanContext(runID, nodeID, stepID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[runID+":"+nodeID+":"+stepID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveSpanContext returns the SpanContext for the active node span
// identified by runID and nodeID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[runID+":"+nodeID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func stepKey(e engine.Event) string {
	return e.RunID + ":" + e.NodeID + ":" + e.StepID
}

// keyRun extracts the run ID prefix from a composite span key.
func keyRun(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

func stringPayload(e engine.Event, key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
