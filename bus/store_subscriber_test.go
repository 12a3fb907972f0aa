package bus

import (
	"context"
	"testing"

	"github.com/fable-labs/fableflow/engine"
)

func TestStoreSubscriberPersistsEvents(t *testing.T) {
	store := NewMemEventStore()
	sub := NewStoreSubscriber(store, nil)

	sub.Handle(event("run-1", 1, engine.EventRunStarted))
	sub.Handle(event("run-1", 2, engine.EventRunCompleted))

	events, err := store.List(context.Background(), "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Kind != engine.EventRunCompleted {
		t.Errorf("second event kind = %s", events[1].Kind)
	}
}

func TestStoreSubscriberAsRunnerHandler(t *testing.T) {
	store := NewMemEventStore()
	sub := NewStoreSubscriber(store, nil)

	// The Handle method satisfies engine.EventHandler.
	var handler engine.EventHandler = sub.Handle
	handler(event("run-9", 1, engine.EventNodeEntered))

	seq, err := store.LatestSeq(context.Background(), "run-9")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
}
