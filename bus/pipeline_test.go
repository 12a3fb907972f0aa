package bus

import (
	"context"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/core"
	"github.com/fable-labs/fableflow/engine"
	"github.com/fable-labs/fableflow/script"
)

// stubClient answers every completion with a fixed reply.
type stubClient struct{}

func (stubClient) Complete(context.Context, core.CompletionRequest) (core.CompletionResponse, error) {
	return core.CompletionResponse{Text: "a quiet evening"}, nil
}

// TestRunnerPublishesThroughBusToStore wires the full live pipeline: the
// runner publishes to a MemBus, a draining subscriber persists into a
// MemEventStore, and the stored history matches the run.
func TestRunnerPublishesThroughBusToStore(t *testing.T) {
	wf := &script.Workflow{
		ID: "tavern",
		Nodes: []script.Node{
			{ID: "arrival", Steps: []script.Step{
				{ID: "describe", Prompt: "Describe the tavern."},
			}},
		},
	}

	eventBus := NewMemBus(MemBusConfig{})
	sub := eventBus.SubscribeAll()
	store := NewMemEventStore()
	persist := NewStoreSubscriber(store, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			persist.Handle(ev)
		}
	}()

	r, err := engine.NewRunner(wf, engine.Config{Client: stubClient{}, Publisher: eventBus})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var delivered int
	timeout := time.After(10 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-r.Events():
			if !ok {
				open = false
				break
			}
			delivered++
		case <-timeout:
			t.Fatal("timed out waiting for the run to finish")
		}
	}

	_ = eventBus.Close()
	<-done

	stored, err := store.List(context.Background(), r.RunID(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != delivered {
		t.Fatalf("stored %d events, runner delivered %d", len(stored), delivered)
	}
	if stored[0].Kind != engine.EventRunStarted {
		t.Errorf("first stored event = %s, want run.started", stored[0].Kind)
	}
	if stored[len(stored)-1].Kind != engine.EventRunCompleted {
		t.Errorf("last stored event = %s, want run.completed", stored[len(stored)-1].Kind)
	}
	for i, ev := range stored {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("stored event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}
}
