package engine

import (
	"encoding/json"
	"fmt"
)

// RunStateVersion is the current snapshot format version. Loading a snapshot
// with a different version fails with a StateError.
const RunStateVersion = 1

// RunState is the persisted, resumable execution position plus accumulated
// context and world state for one session. It is owned exclusively by the
// Runner for the duration of a session and captured only at step boundaries.
type RunState struct {
	Version    int    `json:"version"`
	WorkflowID string `json:"workflowId"`

	// NodeIndex is the index of the next node to execute (or the node
	// currently in progress when StepIndex > 0).
	NodeIndex int `json:"nodeIndex"`

	// StepIndex is the index of the next step to execute within the node.
	StepIndex int `json:"stepIndex"`

	// NodeIterations maps node IDs to their current loop iteration count.
	NodeIterations map[string]int `json:"nodeIterations,omitempty"`

	// StepIterations maps "<nodeID>/<stepID>" to completed iteration counts,
	// kept for traceability.
	StepIterations map[string]int `json:"stepIterations,omitempty"`

	// Context is the full transcript at the capture boundary.
	Context []ContextEntry `json:"context"`

	// World is the world-state snapshot at the capture boundary.
	World map[string]any `json:"world,omitempty"`
}

// Marshal serializes the run state deterministically: identical states
// produce byte-identical snapshots, so saving twice at the same boundary is
// idempotent.
func (rs *RunState) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run state: %w", err)
	}
	return data, nil
}

// UnmarshalRunState decodes a persisted snapshot, failing with a StateError
// on corrupt data or a version mismatch.
func UnmarshalRunState(data []byte) (*RunState, error) {
	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, &StateError{Message: "corrupt run state snapshot", Cause: err}
	}
	if rs.Version != RunStateVersion {
		return nil, &StateError{
			Message: fmt.Sprintf("run state version %d, engine supports %d", rs.Version, RunStateVersion),
		}
	}
	return &rs, nil
}

// StateError reports a corrupt or version-mismatched persisted RunState.
// It is fatal for the resume attempt: the session cannot continue from the
// snapshot and must be reported to the caller for manual recovery.
type StateError struct {
	Message string
	Cause   error
}

func (e *StateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("state error: %s: %v", e.Message, e.Cause)
	}
	return "state error: " + e.Message
}

func (e *StateError) Unwrap() error {
	return e.Cause
}
