// Package prompt provides the prompt-fragment library and the resolver that
// assembles fragments into a single system prompt for a model call.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// FragmentKind categorizes a prompt fragment. Kinds determine the section
// header a fragment is rendered under.
type FragmentKind string

const (
	KindGoal              FragmentKind = "goal"
	KindCoreContent       FragmentKind = "core_content"
	KindProhibitions      FragmentKind = "prohibitions"
	KindResponseStructure FragmentKind = "response_structure"
)

// Headers rendered above fragments of each kind.
var kindHeaders = map[FragmentKind]string{
	KindGoal:              "### Core Rules ###",
	KindCoreContent:       "### Core Content & Worldview ###",
	KindProhibitions:      "### Prohibitions ###",
	KindResponseStructure: "### Response Structure ###",
}

// Header returns the section header for the kind, or a generic one for
// unknown kinds.
func (k FragmentKind) Header() string {
	if h, ok := kindHeaders[k]; ok {
		return h
	}
	return fmt.Sprintf("### %s ###", string(k))
}

// Fragment is one reusable piece of a system prompt.
type Fragment struct {
	Kind        FragmentKind `json:"kind"`
	Content     string       `json:"content"`
	Description string       `json:"description,omitempty"`
}

// Library resolves fragment identifiers to fragment text. The engine treats
// the library as read-only during a run.
type Library interface {
	// ResolveFragment returns the fragment for the given identifier.
	// Returns *UnresolvedFragmentError when the identifier is unknown.
	ResolveFragment(id string) (Fragment, error)
}

// FileLibrary is a JSON-file-backed fragment library. It is safe for
// concurrent readers.
type FileLibrary struct {
	path string

	mu        sync.RWMutex
	fragments map[string]Fragment
}

// NewFileLibrary creates a library backed by the given JSON file. A missing
// file yields an empty library; the file is created on first Save.
func NewFileLibrary(path string) (*FileLibrary, error) {
	lib := &FileLibrary{
		path:      path,
		fragments: make(map[string]Fragment),
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if os.IsNotExist(err) {
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prompt library %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &lib.fragments); err != nil {
		return nil, fmt.Errorf("parsing prompt library %s: %w", path, err)
	}
	return lib, nil
}

// ResolveFragment implements Library.
func (l *FileLibrary) ResolveFragment(id string) (Fragment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	frag, ok := l.fragments[id]
	if !ok {
		return Fragment{}, &UnresolvedFragmentError{ID: id}
	}
	return frag, nil
}

// Put adds or replaces a fragment in memory. Call Save to persist.
func (l *FileLibrary) Put(id string, frag Fragment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fragments[id] = frag
}

// Delete removes a fragment. Returns false if the identifier was unknown.
func (l *FileLibrary) Delete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.fragments[id]; !ok {
		return false
	}
	delete(l.fragments, id)
	return true
}

// List returns all fragment identifiers in sorted order.
func (l *FileLibrary) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.fragments))
	for id := range l.fragments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save persists the library to its backing file.
func (l *FileLibrary) Save() error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l.fragments, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding prompt library: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("writing prompt library %s: %w", l.path, err)
	}
	return nil
}

// UnresolvedFragmentError reports a fragment identifier missing from the
// library. A missing fragment silently changes model behavior, so it is
// surfaced instead of skipped.
type UnresolvedFragmentError struct {
	ID string
}

func (e *UnresolvedFragmentError) Error() string {
	return fmt.Sprintf("unresolved prompt fragment %q", e.ID)
}

// Compile-time interface check.
var _ Library = (*FileLibrary)(nil)
