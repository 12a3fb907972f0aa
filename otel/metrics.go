package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fable-labs/fableflow/engine"
)

// MetricsHandler translates FableFlow engine events into OpenTelemetry
// metrics. It records counters and histograms for step executions, loop
// activity, and run durations.
type MetricsHandler struct {
	stepExecutions metric.Int64Counter
	loopIterations metric.Int64Counter
	loopBounds     metric.Int64Counter
	runFailures    metric.Int64Counter
	stepDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram

	// Step start offsets, keyed runID:nodeID:stepID, for computing step
	// duration from the run-relative Elapsed stamps.
	mu     sync.Mutex
	starts map[string]time.Duration
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording FableFlow engine metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	stepExec, err := meter.Int64Counter("fableflow.step.executions",
		metric.WithDescription("Number of step executions"),
	)
	if err != nil {
		return nil, err
	}

	loopIter, err := meter.Int64Counter("fableflow.loop.iterations",
		metric.WithDescription("Number of conditional loop continuations"),
	)
	if err != nil {
		return nil, err
	}

	loopBound, err := meter.Int64Counter("fableflow.loop.bound_exceeded",
		metric.WithDescription("Number of loops terminated by their iteration bound"),
	)
	if err != nil {
		return nil, err
	}

	runFail, err := meter.Int64Counter("fableflow.run.failures",
		metric.WithDescription("Number of failed runs"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("fableflow.step.duration",
		metric.WithDescription("Duration of step execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("fableflow.run.duration",
		metric.WithDescription("Duration of session run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		stepExecutions: stepExec,
		loopIterations: loopIter,
		loopBounds:     loopBound,
		runFailures:    runFail,
		stepDuration:   stepDur,
		runDuration:    runDur,
		starts:         make(map[string]time.Duration),
	}, nil
}

// Handle processes an engine event and records the appropriate metrics.
// It implements engine.EventHandler semantics.
func (h *MetricsHandler) Handle(e engine.Event) {
	switch e.Kind {
	case engine.EventStepStarted:
		h.mu.Lock()
		h.starts[stepKey(e)] = e.Elapsed
		h.mu.Unlock()
	case engine.EventStepCompleted:
		h.handleStepCompleted(e)
	case engine.EventLoopIterated:
		h.loopIterations.Add(context.Background(), 1, loopAttrs(e))
	case engine.EventLoopBoundExceeded:
		h.loopBounds.Add(context.Background(), 1, loopAttrs(e))
	case engine.EventRunFailed:
		h.runFailures.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("run_id", e.RunID),
		))
	case engine.EventRunCompleted:
		h.runDuration.Record(context.Background(), e.Elapsed.Seconds(),
			metric.WithAttributes(attribute.String("run_id", e.RunID)))
	}
}

// handleStepCompleted increments the execution counter and records duration.
func (h *MetricsHandler) handleStepCompleted(e engine.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_id", e.NodeID),
		attribute.String("step_id", e.StepID),
	)
	h.stepExecutions.Add(ctx, 1, attrs)

	key := stepKey(e)
	h.mu.Lock()
	start, ok := h.starts[key]
	if ok {
		delete(h.starts, key)
	}
	h.mu.Unlock()

	if ok && e.Elapsed >= start {
		h.stepDuration.Record(ctx, (e.Elapsed - start).Seconds(), attrs)
	}
}

func loopAttrs(e engine.Event) metric.MeasurementOption {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", e.NodeID),
	}
	if e.StepID != "" {
		attrs = append(attrs, attribute.String("step_id", e.StepID))
	}
	if v, ok := e.Payload["scope"]; ok {
		if s, ok := v.(string); ok {
			attrs = append(attrs, attribute.String("scope", s))
		}
	}
	return metric.WithAttributes(attrs...)
}
