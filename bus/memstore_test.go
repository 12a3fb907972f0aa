package bus

import (
	"context"
	"testing"

	"github.com/fable-labs/fableflow/engine"
)

func TestMemEventStoreAppendAndList(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := s.Append(ctx, event("run-1", seq, engine.EventStepCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d events, want 5", len(all))
	}

	after, err := s.List(ctx, "run-1", 3, 0)
	if err != nil {
		t.Fatalf("List afterSeq: %v", err)
	}
	if len(after) != 2 || after[0].Seq != 4 {
		t.Errorf("afterSeq=3 returned %d events, first seq %d", len(after), after[0].Seq)
	}

	limited, err := s.List(ctx, "run-1", 0, 2)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit=2 returned %d events", len(limited))
	}
}

func TestMemEventStoreLatestSeq(t *testing.T) {
	s := NewMemEventStore()
	ctx := context.Background()

	seq, err := s.LatestSeq(ctx, "missing")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty run seq = %d, want 0", seq)
	}

	for _, n := range []uint64{1, 3, 2} {
		if err := s.Append(ctx, event("run-1", n, engine.EventStepCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	seq, err = s.LatestSeq(ctx, "run-1")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 3 {
		t.Errorf("seq = %d, want 3", seq)
	}
}
