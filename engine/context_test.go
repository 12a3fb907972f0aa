package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/core"
)

func TestContextStoreAppendOrder(t *testing.T) {
	store := NewContextStore()

	store.Append(ContextEntry{Role: core.RoleSystem, Text: "setup"})
	store.Append(ContextEntry{Role: core.RolePlayer, Text: "hello"})
	store.Append(ContextEntry{Role: core.RoleAI, Text: "greetings"})

	entries := store.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"setup", "hello", "greetings"} {
		if entries[i].Text != want {
			t.Errorf("entry %d text = %q, want %q", i, entries[i].Text, want)
		}
	}
}

func TestContextStoreStampsTime(t *testing.T) {
	store := NewContextStore()
	before := time.Now()
	store.Append(ContextEntry{Role: core.RoleAI, Text: "x"})

	got := store.Snapshot()[0].Time
	if got.Before(before) || got.After(time.Now()) {
		t.Errorf("timestamp %v not stamped at append time", got)
	}

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Append(ContextEntry{Role: core.RoleAI, Text: "y", Time: fixed})
	if got := store.Snapshot()[1].Time; !got.Equal(fixed) {
		t.Errorf("explicit timestamp overwritten: %v", got)
	}
}

func TestContextStoreConcurrentAppends(t *testing.T) {
	store := NewContextStore()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Append(ContextEntry{
					Role: core.RoleAI,
					Text: fmt.Sprintf("w%d-%d", w, i),
				})
			}
		}(w)
	}
	wg.Wait()

	entries := store.Snapshot()
	if len(entries) != writers*perWriter {
		t.Fatalf("got %d entries, want %d", len(entries), writers*perWriter)
	}

	// Each writer's own entries must appear in its submission order within
	// the total order.
	last := make(map[int]int, writers)
	for w := 0; w < writers; w++ {
		last[w] = -1
	}
	for _, e := range entries {
		var w, i int
		if _, err := fmt.Sscanf(e.Text, "w%d-%d", &w, &i); err != nil {
			t.Fatalf("unexpected entry text %q", e.Text)
		}
		if i != last[w]+1 {
			t.Fatalf("writer %d entry %d out of order (previous %d)", w, i, last[w])
		}
		last[w] = i
	}
}

func TestContextStoreConversationFiltersSystem(t *testing.T) {
	store := NewContextStore()
	store.Append(ContextEntry{Role: core.RoleSystem, Text: "rules"})
	store.Append(ContextEntry{Role: core.RolePlayer, Text: "I enter."})
	store.Append(ContextEntry{Role: core.RoleAI, Text: "The door creaks."})

	msgs := store.Conversation()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != core.RolePlayer || msgs[1].Role != core.RoleAI {
		t.Errorf("unexpected roles: %v, %v", msgs[0].Role, msgs[1].Role)
	}
}

func TestContextStoreSnapshotIsCopy(t *testing.T) {
	store := NewContextStore()
	store.Append(ContextEntry{Role: core.RoleAI, Text: "one"})

	snap := store.Snapshot()
	store.Append(ContextEntry{Role: core.RoleAI, Text: "two"})

	if len(snap) != 1 {
		t.Errorf("snapshot grew after later append: %d entries", len(snap))
	}
}

func TestWorldStateRoundTrip(t *testing.T) {
	world := NewWorldState()
	world.Set("mood", "tense")
	world.Set("gold", 12)

	if v, ok := world.Get("mood"); !ok || v != "tense" {
		t.Errorf("Get(mood) = %v, %v", v, ok)
	}

	snap := world.Snapshot()
	world.Set("mood", "calm")
	if snap["mood"] != "tense" {
		t.Errorf("snapshot mutated by later Set: %v", snap["mood"])
	}

	fresh := NewWorldState()
	fresh.Restore(snap)
	if v, _ := fresh.Get("gold"); v != 12 {
		t.Errorf("restored gold = %v, want 12", v)
	}
}
