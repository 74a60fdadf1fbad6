package plugins

import (
	"fmt"
	"sync"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestEnableFromBool(t *testing.T) {
	if EnableFromBool(nil) != EnableUnspecified {
		t.Error("nil must map to unspecified")
	}
	if EnableFromBool(boolPtr(true)) != EnableOn {
		t.Error("true must map to on")
	}
	if EnableFromBool(boolPtr(false)) != EnableOff {
		t.Error("false must map to off")
	}
	if !EnableUnspecified.Effective() {
		t.Error("unspecified must be effectively enabled")
	}
	if EnableOff.Effective() {
		t.Error("off must be effectively disabled")
	}
}

func TestRuntimeStateLookupOrder(t *testing.T) {
	s := NewRuntimeState()
	s.Seed([]StateEntry{
		{Namespace: "notes", ID: "notes-v2", Enabled: EnableOff},
		{Namespace: "wiki", ID: "wiki", Enabled: EnableOn},
	})

	if s.IsEnabled("notes") {
		t.Error("namespace lookup should report disabled")
	}
	if s.IsEnabled("notes-v2") {
		t.Error("id lookup should report disabled")
	}
	if !s.IsEnabled("wiki") {
		t.Error("enabled plugin reported disabled")
	}
	if !s.IsEnabled("never-registered") {
		t.Error("unknown references default to enabled")
	}
}

func TestRuntimeStateSeedReplacesWholesale(t *testing.T) {
	s := NewRuntimeState()
	s.Seed([]StateEntry{{Namespace: "old", ID: "old", Enabled: EnableOff}})
	s.Seed([]StateEntry{{Namespace: "new", ID: "new", Enabled: EnableOff}})

	if !s.IsEnabled("old") {
		t.Error("reseeding must drop entries absent from the new set")
	}
	if s.IsEnabled("new") {
		t.Error("new entry not applied")
	}
}

func TestRuntimeStateSeedIdempotent(t *testing.T) {
	s := NewRuntimeState()
	entries := []StateEntry{
		{Namespace: "a", ID: "a", Enabled: EnableOff},
		{Namespace: "b", ID: "b", Enabled: EnableOn},
	}
	s.Seed(entries)
	s.Seed(entries)
	if s.IsEnabled("a") || !s.IsEnabled("b") {
		t.Error("seeding twice with the same set must not change results")
	}
}

func TestRuntimeStateUpdatePatches(t *testing.T) {
	s := NewRuntimeState()
	s.Seed([]StateEntry{
		{Namespace: "a", ID: "a", Enabled: EnableOn},
		{Namespace: "b", ID: "b", Enabled: EnableOn},
	})
	s.Update(StateEntry{Namespace: "a", ID: "a", Enabled: EnableOff})

	if s.IsEnabled("a") {
		t.Error("patched entry not applied")
	}
	if !s.IsEnabled("b") {
		t.Error("untouched entry must survive a patch")
	}
}

func TestRuntimeStateConcurrentReaders(t *testing.T) {
	s := NewRuntimeState()
	s.Seed([]StateEntry{{Namespace: "a", ID: "a", Enabled: EnableOn}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.IsEnabled("a")
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		s.Update(StateEntry{Namespace: "a", ID: "a", Enabled: EnableState(j % 3)})
	}
	wg.Wait()
}

func TestRuntimeStateConcurrentUpdatesLoseNothing(t *testing.T) {
	s := NewRuntimeState()

	// Each goroutine patches its own key; every patch must survive the
	// copy-and-swap of all the others.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		ns := fmt.Sprintf("plugin-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(StateEntry{Namespace: ns, ID: ns, Enabled: EnableOff})
		}()
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		ns := fmt.Sprintf("plugin-%d", i)
		if s.IsEnabled(ns) {
			t.Errorf("update for %s was lost", ns)
		}
	}
}
