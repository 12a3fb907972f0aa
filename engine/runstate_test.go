package engine

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/core"
)

func sampleRunState() *RunState {
	return &RunState{
		Version:    RunStateVersion,
		WorkflowID: "quest",
		NodeIndex:  1,
		StepIndex:  2,
		NodeIterations: map[string]int{
			"intro": 1,
		},
		StepIterations: map[string]int{
			"intro/greet": 3,
		},
		Context: []ContextEntry{
			{Role: core.RoleAI, Text: "Welcome.", Time: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
		World: map[string]any{"mood": "tense"},
	}
}

func TestRunStateRoundTrip(t *testing.T) {
	original := sampleRunState()

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	restored, err := UnmarshalRunState(data)
	if err != nil {
		t.Fatalf("UnmarshalRunState: %v", err)
	}

	if restored.WorkflowID != original.WorkflowID {
		t.Errorf("workflow = %q, want %q", restored.WorkflowID, original.WorkflowID)
	}
	if restored.NodeIndex != 1 || restored.StepIndex != 2 {
		t.Errorf("position = %d/%d, want 1/2", restored.NodeIndex, restored.StepIndex)
	}
	if restored.StepIterations["intro/greet"] != 3 {
		t.Errorf("step iterations = %v", restored.StepIterations)
	}
	if len(restored.Context) != 1 || restored.Context[0].Text != "Welcome." {
		t.Errorf("context = %+v", restored.Context)
	}
}

func TestRunStateMarshalIdempotent(t *testing.T) {
	rs := sampleRunState()

	first, err := rs.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := rs.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated Marshal of the same state produced different bytes")
	}
}

func TestUnmarshalRunStateCorrupt(t *testing.T) {
	_, err := UnmarshalRunState([]byte("{not json"))

	var serr *StateError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want StateError", err)
	}
}

func TestUnmarshalRunStateVersionMismatch(t *testing.T) {
	rs := sampleRunState()
	rs.Version = RunStateVersion + 1
	data, err := rs.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	_, err = UnmarshalRunState(data)
	var serr *StateError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want StateError", err)
	}
}
