package otel_test

import (
	"context"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/core"
	"github.com/fable-labs/fableflow/engine"
	fableotel "github.com/fable-labs/fableflow/otel"
	"github.com/fable-labs/fableflow/script"
)

type replyClient struct{}

func (replyClient) Complete(context.Context, core.CompletionRequest) (core.CompletionResponse, error) {
	return core.CompletionResponse{Text: "the tavern hushes"}, nil
}

// TestEmitterDecoratorStampsLiveEvents runs a real session with the tracing
// handler installed both as event handler and emitter decorator, the way a
// traced deployment wires it, and checks that delivered events carry the
// trace identity of the exported spans.
func TestEmitterDecoratorStampsLiveEvents(t *testing.T) {
	exporter, tp := newTestTracer()
	tracing := fableotel.NewTracingHandler(tp.Tracer("test"))

	wf := &script.Workflow{
		ID: "tavern",
		Nodes: []script.Node{
			{ID: "arrival", Steps: []script.Step{
				{ID: "describe", Prompt: "Describe the tavern."},
			}},
		},
	}

	r, err := engine.NewRunner(wf, engine.Config{
		Client:           replyClient{},
		Handler:          tracing.Handle,
		EmitterDecorator: fableotel.EmitterDecorator(tracing),
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var events []engine.Event
	timeout := time.After(10 * time.Second)
	for open := true; open; {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				open = false
				break
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for the run to finish")
		}
	}

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans exported")
	}
	traceID := spans[0].SpanContext.TraceID().String()

	var stamped int
	for _, ev := range events {
		switch ev.Kind {
		case engine.EventStepStarted, engine.EventStepCompleted, engine.EventNodeCompleted:
			if ev.TraceID == "" || ev.SpanID == "" {
				t.Errorf("%s event missing trace identity", ev.Kind)
				continue
			}
			if ev.TraceID != traceID {
				t.Errorf("%s trace = %s, want %s", ev.Kind, ev.TraceID, traceID)
			}
			stamped++
		}
	}
	if stamped == 0 {
		t.Fatal("no events were stamped with trace identity")
	}
}
