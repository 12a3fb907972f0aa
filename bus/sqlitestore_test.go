package bus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/engine"
)

func newTestSQLiteStore(t *testing.T, cfg SQLiteStoreConfig) *SQLiteEventStore {
	t.Helper()
	if cfg.DSN == "" {
		cfg.DSN = filepath.Join(t.TempDir(), "events.db")
	}
	s, err := NewSQLiteEventStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	ev := engine.NewEvent(engine.EventStepCompleted, "run-1").
		WithStep("arrival", "describe").
		WithElapsed(42 * time.Millisecond).
		WithPayload("text", "The tavern is warm.")
	ev.Seq = 7
	ev.TraceID = "trace-a"
	ev.SpanID = "span-b"

	if err := s.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	got := events[0]
	if got.Kind != engine.EventStepCompleted {
		t.Errorf("kind = %s", got.Kind)
	}
	if got.NodeID != "arrival" || got.StepID != "describe" {
		t.Errorf("node/step = %s/%s", got.NodeID, got.StepID)
	}
	if got.Seq != 7 {
		t.Errorf("seq = %d, want 7", got.Seq)
	}
	if got.Elapsed != 42*time.Millisecond {
		t.Errorf("elapsed = %v", got.Elapsed)
	}
	if got.Payload["text"] != "The tavern is warm." {
		t.Errorf("payload = %v", got.Payload)
	}
	if got.TraceID != "trace-a" || got.SpanID != "span-b" {
		t.Errorf("trace/span = %s/%s", got.TraceID, got.SpanID)
	}
}

func TestSQLiteStoreListFiltering(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	for seq := uint64(1); seq <= 10; seq++ {
		if err := s.Append(ctx, event("run-1", seq, engine.EventStepCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, event("run-2", 1, engine.EventRunStarted)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	after, err := s.List(ctx, "run-1", 8, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(after) != 2 || after[0].Seq != 9 || after[1].Seq != 10 {
		t.Errorf("afterSeq=8 returned %+v", after)
	}

	limited, err := s.List(ctx, "run-1", 0, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("limit=3 returned %d events", len(limited))
	}

	other, err := s.List(ctx, "run-2", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("run-2 events = %d, want 1", len(other))
	}
}

func TestSQLiteStoreLatestSeq(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	seq, err := s.LatestSeq(ctx, "empty")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty run seq = %d, want 0", seq)
	}

	for _, n := range []uint64{2, 5, 3} {
		if err := s.Append(ctx, event("run-1", n, engine.EventStepCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	seq, err = s.LatestSeq(ctx, "run-1")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 5 {
		t.Errorf("seq = %d, want 5", seq)
	}
}

func TestSQLiteStoreRunIDs(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{})
	ctx := context.Background()

	for _, runID := range []string{"b-run", "a-run", "b-run"} {
		if err := s.Append(ctx, event(runID, 1, engine.EventRunStarted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	ids, err := s.RunIDs(ctx)
	if err != nil {
		t.Fatalf("RunIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a-run" || ids[1] != "b-run" {
		t.Errorf("RunIDs = %v", ids)
	}
}

func TestSQLiteStorePruneByCount(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{RetentionCount: 3, PruneInterval: time.Hour})
	ctx := context.Background()

	for seq := uint64(1); seq <= 10; seq++ {
		if err := s.Append(ctx, event("run-1", seq, engine.EventStepCompleted)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	events, err := s.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events after prune, want 3", len(events))
	}
	if events[0].Seq != 8 {
		t.Errorf("oldest kept seq = %d, want 8", events[0].Seq)
	}
}

func TestSQLiteStorePruneByAge(t *testing.T) {
	s := newTestSQLiteStore(t, SQLiteStoreConfig{RetentionAge: time.Hour, PruneInterval: time.Hour})
	ctx := context.Background()

	old := event("run-1", 1, engine.EventStepCompleted)
	old.Time = time.Now().Add(-2 * time.Hour)
	if err := s.Append(ctx, old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if err := s.Append(ctx, event("run-1", 2, engine.EventStepCompleted)); err != nil {
		t.Fatalf("Append recent: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	events, err := s.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 2 {
		t.Errorf("events after age prune = %+v, want only seq 2", events)
	}
}
