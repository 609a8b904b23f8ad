// Package registry keeps the set of structures currently known to the
// client. It is a plain keyed store; which announcements make it in here,
// and what states get written, is decided by the reconciler on top.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/critterranch/structsync/pkg/structure"
)

// Registry is the store the reconciler works against. It is an interface so
// tests and tooling can substitute their own backing without touching the
// reconciliation logic.
type Registry interface {
	// Register adds a structure. Registering an ID that is already present
	// is a no-op that keeps the stored entry, state included, and returns
	// false.
	Register(s structure.Structure) bool
	// Unregister removes a structure and returns the removed entry.
	// Unknown IDs return false.
	Unregister(id string) (structure.Structure, bool)
	// Lookup returns a copy of the stored structure.
	Lookup(id string) (structure.Structure, bool)
	// SetState overwrites the state of a registered structure. Unknown IDs
	// return false.
	SetState(id string, st structure.State, at time.Time) bool
	// Snapshot returns copies of all entries ordered by ID.
	Snapshot() []structure.Structure
	Len() int
	Reset()
}

// Store caches structures in memory. Latency on these calls matters: every
// push and every interaction trigger goes through a lookup.
type Store struct {
	m     sync.Mutex
	items map[string]structure.Structure
}

var _ Registry = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		items: make(map[string]structure.Structure),
	}
}

func (s *Store) Register(st structure.Structure) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.items[st.ID]; ok {
		return false
	}
	s.items[st.ID] = st
	return true
}

func (s *Store) Unregister(id string) (structure.Structure, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	st, ok := s.items[id]
	if !ok {
		return structure.Structure{}, false
	}
	delete(s.items, id)
	return st, true
}

func (s *Store) Lookup(id string) (structure.Structure, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	if st, ok := s.items[id]; ok {
		return st, true
	}
	return structure.Structure{}, false
}

func (s *Store) SetState(id string, state structure.State, at time.Time) bool {
	s.m.Lock()
	defer s.m.Unlock()
	st, ok := s.items[id]
	if !ok {
		return false
	}
	st.State = state
	st.StateAt = at
	s.items[id] = st
	return true
}

func (s *Store) Snapshot() []structure.Structure {
	s.m.Lock()
	defer s.m.Unlock()
	out := make([]structure.Structure, 0, len(s.items))
	for _, st := range s.items {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.items)
}

func (s *Store) Reset() {
	s.m.Lock()
	defer s.m.Unlock()
	s.items = make(map[string]structure.Structure)
}
