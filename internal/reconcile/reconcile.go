// Package reconcile merges the two server streams that describe structures,
// discovery announcements and state pushes, into the local cache. The two
// streams share no ordering guarantee: a push can arrive before the
// announcement for the same structure, and an announcement can arrive for a
// structure whose state never got pushed. Reconciliation makes the cache
// converge to the server's view no matter which interleaving happens.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/critterranch/structsync/internal/events"
	"github.com/critterranch/structsync/internal/geo"
	"github.com/critterranch/structsync/internal/pending"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// StatePuller fetches the authoritative state of one structure from the
// server.
type StatePuller interface {
	StructureState(ctx context.Context, id string) (structure.State, error)
}

// Gate decides whether a discovered structure is close enough to track.
// A nil Gate admits everything.
type Gate interface {
	Admit(anchor geom.Point) bool
}

// Dependencies holds everything the reconciler works with.
type Dependencies struct {
	Registry  registry.Registry
	Pending   *pending.Buffer
	States    StatePuller
	Session   *session.Context
	Gate      Gate
	Logger    *slog.Logger
	Changes   *events.Emitter[structure.ChangeEvent]
	Hatches   *events.Emitter[structure.HatchEvent]
	Lifecycle *events.Emitter[structure.LifecycleEvent]
}

// Stats counts reconciliation outcomes since startup.
type Stats struct {
	Applied          int `json:"applied"`
	Buffered         int `json:"buffered"`
	PendingConsumed  int `json:"pendingConsumed"`
	PullsIssued      int `json:"pullsIssued"`
	PullsFailed      int `json:"pullsFailed"`
	StaleDrops       int `json:"staleDrops"`
	SkippedOwnerless int `json:"skippedOwnerless"`
	SkippedForeign   int `json:"skippedForeign"`
	SkippedCulled    int `json:"skippedCulled"`
	Duplicates       int `json:"duplicates"`
	Removed          int `json:"removed"`
}

// Service is the single writer of the structure cache. One mutex serializes
// every entry point, so the server's pushes, announcements and pull
// responses are applied one at a time and the consume-or-pull decision made
// during registration can never race a push for the same structure.
//
// Event handlers fire while that mutex is held and must not call back into
// the service.
type Service struct {
	deps Dependencies

	mu    sync.Mutex
	stats Stats
}

func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Changes == nil {
		deps.Changes = events.NewEmitter[structure.ChangeEvent]()
	}
	if deps.Hatches == nil {
		deps.Hatches = events.NewEmitter[structure.HatchEvent]()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = events.NewEmitter[structure.LifecycleEvent]()
	}
	return &Service{deps: deps}
}

// HandleDiscovered processes a structure_appeared announcement. Foreign and
// ownerless announcements are skipped; the server re-announces once
// ownership has replicated. Registration consumes a buffered push when one
// is waiting, otherwise it pulls the state from the server.
func (s *Service) HandleDiscovered(ctx context.Context, p protocol.StructureAppearedPayload) {
	s.mu.Lock()

	log := s.deps.Logger.With("structure", p.StructureID)

	if p.Owner == "" {
		s.stats.SkippedOwnerless++
		s.mu.Unlock()
		log.Debug("skipping ownerless announcement")
		return
	}
	if p.Owner != s.deps.Session.PlayerID() {
		s.stats.SkippedForeign++
		s.mu.Unlock()
		return
	}

	anchor, _, err := geo.ParseAnchor(p.Anchor)
	if err != nil {
		s.mu.Unlock()
		log.Warn("announcement has unparseable anchor", "anchor", p.Anchor, "error", err)
		return
	}
	anchor = geo.PlotLocalToWorld(s.deps.Session.PlotOrigin(), anchor)

	if s.deps.Gate != nil && !s.deps.Gate.Admit(anchor) {
		s.stats.SkippedCulled++
		s.mu.Unlock()
		log.Debug("announcement outside tracking range")
		return
	}

	st := structure.Structure{
		ID:     p.StructureID,
		Kind:   structure.Kind(p.StructureType),
		Anchor: anchor,
		Owner:  p.Owner,
	}
	if !s.deps.Registry.Register(st) {
		s.stats.Duplicates++
		s.mu.Unlock()
		log.Debug("structure already registered")
		return
	}

	s.deps.Lifecycle.Emit(structure.LifecycleEvent{
		StructureID: st.ID,
		Kind:        st.Kind,
		Registered:  true,
		At:          s.deps.Session.Now(),
	})

	if ev, ok := s.deps.Pending.Take(st.ID); ok {
		s.stats.PendingConsumed++
		s.applyLocked(ev)
		s.mu.Unlock()
		log.Debug("consumed buffered state on registration", "action", ev.Action)
		return
	}

	s.stats.PullsIssued++
	s.mu.Unlock()

	// The pull runs off the mutex; resolvePull re-checks under it.
	go s.pullState(ctx, st.ID)
}

// HandleRemoved processes a structure_removed announcement. Removing an
// unknown structure is a no-op, and any buffered push for it is dropped so
// it cannot resurrect the structure later.
func (s *Service) HandleRemoved(_ context.Context, p protocol.StructureRemovedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.deps.Registry.Unregister(p.StructureID)
	if _, had := s.deps.Pending.Take(p.StructureID); had {
		s.deps.Logger.Debug("dropped buffered state for removed structure", "structure", p.StructureID)
	}
	if !ok {
		return
	}

	s.stats.Removed++
	s.deps.Lifecycle.Emit(structure.LifecycleEvent{
		StructureID: p.StructureID,
		Kind:        st.Kind,
		Registered:  false,
		At:          s.deps.Session.Now(),
	})
}

// HandleStateChanged processes a structure_state_changed push. Known
// structures get the state applied immediately; unknown ones get it
// buffered until their announcement arrives.
func (s *Service) HandleStateChanged(_ context.Context, ev structure.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deps.Registry.Lookup(ev.StructureID); ok {
		s.applyLocked(ev)
		return
	}

	if s.deps.Pending.Put(ev) {
		s.deps.Logger.Warn("replaced buffered state before registration",
			"structure", ev.StructureID,
			"action", ev.Action,
		)
	}
	s.stats.Buffered++
}

// pullState fetches a structure's state and applies it unless events during
// the round trip made the response stale: the structure may have been
// removed, or a push may have landed first. Pushes always carry newer
// information than a pull issued before them, so the pull loses every tie.
func (s *Service) pullState(ctx context.Context, id string) {
	st, err := s.deps.States.StructureState(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deps.Registry.Lookup(id)
	if !ok || cur.State != nil {
		s.stats.StaleDrops++
		s.deps.Logger.Debug("discarding stale pull response", "structure", id)
		return
	}
	if err != nil {
		s.stats.PullsFailed++
		s.deps.Logger.Warn("state pull failed, structure stays unknown",
			"structure", id,
			"error", err,
		)
		return
	}

	s.applyLocked(structure.ChangeEvent{
		StructureID: id,
		Kind:        cur.Kind,
		Action:      structure.ChangeInitial,
		State:       st,
		At:          s.deps.Session.Now(),
	})
}

// applyLocked writes the state into the registry and fans out events.
// Callers must hold s.mu.
func (s *Service) applyLocked(ev structure.ChangeEvent) {
	if !s.deps.Registry.SetState(ev.StructureID, ev.State, ev.At) {
		return
	}
	s.stats.Applied++

	s.deps.Changes.Emit(ev)
	if ev.Action == structure.ChangeHatched && ev.AuxUnit != nil {
		s.deps.Hatches.Emit(structure.HatchEvent{
			StructureID: ev.StructureID,
			Unit:        *ev.AuxUnit,
		})
	}
}

// Changes returns the emitter that fires on every applied state change.
func (s *Service) Changes() *events.Emitter[structure.ChangeEvent] {
	return s.deps.Changes
}

// Hatches returns the emitter that fires once per hatched unit.
func (s *Service) Hatches() *events.Emitter[structure.HatchEvent] {
	return s.deps.Hatches
}

// Lifecycle returns the emitter that fires on registration and removal.
func (s *Service) Lifecycle() *events.Emitter[structure.LifecycleEvent] {
	return s.deps.Lifecycle
}

// Stats returns a copy of the reconciliation counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset clears the cache and the pending buffer. Used when a reconnect
// starts a fresh snapshot cycle.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.Registry.Reset()
	s.deps.Pending.Reset()
}
