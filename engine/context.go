package engine

import (
	"sync"
	"time"

	"github.com/fable-labs/fableflow/core"
)

// ContextEntry is one turn of the session transcript. Entries are append-only
// and never mutated after creation.
type ContextEntry struct {
	Role   core.Role `json:"role"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	NodeID string    `json:"nodeId,omitempty"`
	StepID string    `json:"stepId,omitempty"`
}

// ContextStore is the ordered, append-only record of conversation turns.
// Appends are serialized under a mutex so that entries form a single total
// order even when parallel steps complete concurrently; readers never
// observe a partially-appended entry.
type ContextStore struct {
	mu      sync.Mutex
	entries []ContextEntry
	now     func() time.Time
}

// NewContextStore creates an empty context store.
func NewContextStore() *ContextStore {
	return &ContextStore{now: time.Now}
}

// Append adds an entry to the transcript. A zero timestamp is stamped at
// append time. First-to-append wins the earlier position; there is no other
// ordering between concurrent appenders.
func (s *ContextStore) Append(entry ContextEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Time.IsZero() {
		entry.Time = s.now()
	}
	s.entries = append(s.entries, entry)
}

// Snapshot returns a copy of the transcript. The caller owns the slice;
// subsequent appends do not affect it.
func (s *ContextStore) Snapshot() []ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ContextEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Conversation returns the player/ai turns of the transcript as chat
// messages, oldest first, for use as a model conversation tail.
func (s *ContextStore) Conversation() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []core.Message
	for _, e := range s.entries {
		if e.Role == core.RolePlayer || e.Role == core.RoleAI {
			msgs = append(msgs, core.Message{Role: e.Role, Content: e.Text})
		}
	}
	return msgs
}

// Len returns the number of entries.
func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Restore replaces the transcript with the given entries. Used only when
// resuming a persisted session, never during execution.
func (s *ContextStore) Restore(entries []ContextEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]ContextEntry, len(entries))
	copy(s.entries, entries)
}

// WorldState is the mutable key-value game-attribute state of one session.
// It is owned by the session's RunState and never shared across sessions.
type WorldState struct {
	mu    sync.Mutex
	attrs map[string]any
}

// NewWorldState creates an empty world state.
func NewWorldState() *WorldState {
	return &WorldState{attrs: make(map[string]any)}
}

// Set stores an attribute value.
func (w *WorldState) Set(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attrs[key] = value
}

// Get returns an attribute value.
func (w *WorldState) Get(key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.attrs[key]
	return v, ok
}

// Snapshot returns a copy of all attributes.
func (w *WorldState) Snapshot() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]any, len(w.attrs))
	for k, v := range w.attrs {
		out[k] = v
	}
	return out
}

// Restore replaces all attributes. Used only when resuming a persisted
// session.
func (w *WorldState) Restore(attrs map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.attrs = make(map[string]any, len(attrs))
	for k, v := range attrs {
		w.attrs[k] = v
	}
}
