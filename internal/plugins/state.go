package plugins

import (
	"sync"
	"sync/atomic"
)

// EnableState is the explicit tri-state enablement used for manifests,
// registry rows, and the runtime state store. Unspecified is deliberately
// distinct from Enabled: "absence means enabled" is a documented default
// applied in exactly one place (Effective), not an implicit falsy check.
type EnableState int

const (
	EnableUnspecified EnableState = iota
	EnableOn
	EnableOff
)

// EnableFromBool converts an optional boolean into a tri-state.
func EnableFromBool(b *bool) EnableState {
	switch {
	case b == nil:
		return EnableUnspecified
	case *b:
		return EnableOn
	default:
		return EnableOff
	}
}

// Effective resolves the tri-state to a boolean: only an explicit Off
// disables; Unspecified is treated as enabled.
func (s EnableState) Effective() bool {
	return s != EnableOff
}

func (s EnableState) String() string {
	switch s {
	case EnableOn:
		return "enabled"
	case EnableOff:
		return "disabled"
	default:
		return "unspecified"
	}
}

// StateEntry is one plugin's contribution to the runtime state store.
type StateEntry struct {
	Namespace string
	ID        string
	Enabled   EnableState
}

// stateSnapshot is an immutable pair of lookup maps. Snapshots are replaced
// wholesale and never mutated, so readers see either the old or the new
// state, never a half-built map.
type stateSnapshot struct {
	byNamespace map[string]EnableState
	byID        map[string]EnableState
}

// RuntimeState tracks enabled/disabled status keyed by namespace and by
// stable plugin id. It is advisory, for routing and UI decisions only.
// Authorization must go through capability resolution and RBAC, never
// through this store.
type RuntimeState struct {
	// writeMu serializes writers; readers go through the atomic pointer
	// without locking. Without it two concurrent Updates could copy the
	// same snapshot and lose one of the patches.
	writeMu sync.Mutex
	snap    atomic.Pointer[stateSnapshot]
}

// NewRuntimeState creates an empty runtime state store.
func NewRuntimeState() *RuntimeState {
	s := &RuntimeState{}
	s.snap.Store(&stateSnapshot{
		byNamespace: map[string]EnableState{},
		byID:        map[string]EnableState{},
	})
	return s
}

// Seed clears and rebuilds both maps from a full plugin set. The replacement
// is built off to the side and swapped in atomically.
func (s *RuntimeState) Seed(entries []StateEntry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := &stateSnapshot{
		byNamespace: make(map[string]EnableState, len(entries)),
		byID:        make(map[string]EnableState, len(entries)),
	}
	for _, e := range entries {
		addEntry(next, e)
	}
	s.snap.Store(next)
}

// Update patches one or more entries without touching unrelated keys.
func (s *RuntimeState) Update(entries ...StateEntry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	current := s.snap.Load()
	next := &stateSnapshot{
		byNamespace: make(map[string]EnableState, len(current.byNamespace)+len(entries)),
		byID:        make(map[string]EnableState, len(current.byID)+len(entries)),
	}
	for k, v := range current.byNamespace {
		next.byNamespace[k] = v
	}
	for k, v := range current.byID {
		next.byID[k] = v
	}
	for _, e := range entries {
		addEntry(next, e)
	}
	s.snap.Store(next)
}

func addEntry(snap *stateSnapshot, e StateEntry) {
	if e.Namespace != "" {
		snap.byNamespace[e.Namespace] = e.Enabled
	}
	if e.ID != "" {
		snap.byID[e.ID] = e.Enabled
	}
}

// IsEnabled looks up a reference by namespace first, then by id. Unknown
// references default to true: the store is fail-open for presence checks
// and must never serve as an authorization decision by itself.
func (s *RuntimeState) IsEnabled(ref string) bool {
	snap := s.snap.Load()
	if state, ok := snap.byNamespace[ref]; ok {
		return state.Effective()
	}
	if state, ok := snap.byID[ref]; ok {
		return state.Effective()
	}
	return true
}
