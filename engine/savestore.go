package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SaveStore persists RunState snapshots under named slots.
type SaveStore interface {
	// Save writes a snapshot under the given slot, replacing any previous one.
	Save(slot string, rs *RunState) error

	// Load reads the snapshot stored under the given slot.
	Load(slot string) (*RunState, error)

	// List returns the known slot names in sorted order.
	List() ([]string, error)
}

// FSSaveStore stores one JSON file per slot in a directory. Writes are
// atomic (write to a temp file, then rename) so a crash never leaves a
// half-written snapshot behind.
type FSSaveStore struct {
	dir string
}

// NewFSSaveStore creates the directory if needed and returns the store.
func NewFSSaveStore(dir string) (*FSSaveStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating save directory %s: %w", dir, err)
	}
	return &FSSaveStore{dir: dir}, nil
}

func (s *FSSaveStore) slotPath(slot string) string {
	return filepath.Join(s.dir, slot+".json")
}

// Save implements SaveStore.
func (s *FSSaveStore) Save(slot string, rs *RunState) error {
	data, err := rs.Marshal()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, slot+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp save file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing save file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing save file: %w", err)
	}

	if err := os.Rename(tmpName, s.slotPath(slot)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("committing save file: %w", err)
	}
	return nil
}

// Load implements SaveStore.
func (s *FSSaveStore) Load(slot string) (*RunState, error) {
	data, err := os.ReadFile(s.slotPath(slot)) // #nosec G304 -- path built from store dir
	if err != nil {
		return nil, fmt.Errorf("reading save slot %q: %w", slot, err)
	}
	return UnmarshalRunState(data)
}

// List implements SaveStore.
func (s *FSSaveStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing save directory: %w", err)
	}

	var slots []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		slots = append(slots, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(slots)
	return slots, nil
}

// Compile-time interface check.
var _ SaveStore = (*FSSaveStore)(nil)
