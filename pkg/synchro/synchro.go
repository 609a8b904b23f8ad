// Package synchro is the public face of the structure synchronizer. A game
// client embeds one Synchronizer and talks to it from its frame loop:
// subscribe to the event streams, read projected values every frame, and
// fire trigger presses. Reads are cheap cache lookups; only the trigger
// calls touch the network, under the caller's context.
package synchro

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/cull"
	"github.com/critterranch/structsync/internal/events"
	"github.com/critterranch/structsync/internal/format"
	"github.com/critterranch/structsync/internal/interact"
	"github.com/critterranch/structsync/internal/journal"
	"github.com/critterranch/structsync/internal/machine"
	"github.com/critterranch/structsync/internal/projection"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// Dependencies holds the assembled services the facade fronts. Registry,
// Reconciler, Interact and Session are required; Gate and Journal may be
// nil, which means every structure is visible and no requests are
// journaled.
type Dependencies struct {
	Registry   registry.Registry
	Reconciler *reconcile.Service
	Interact   *interact.Dispatcher
	Session    *session.Context
	Income     config.IncomeConfig
	Gate       *cull.Gate
	Journal    journal.Recorder
	Logger     *slog.Logger
}

// Synchronizer is the game client's handle on the synchronized structure
// set.
type Synchronizer struct {
	deps Dependencies
}

func New(deps Dependencies) *Synchronizer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Synchronizer{deps: deps}
}

// OnStateChanged subscribes to applied state changes. The handler runs on
// the reconciler's goroutine and must not call back into the synchronizer.
func (s *Synchronizer) OnStateChanged(fn func(structure.ChangeEvent)) events.Token {
	return s.deps.Reconciler.Changes().Subscribe(fn)
}

// OffStateChanged removes a state-change subscription.
func (s *Synchronizer) OffStateChanged(tok events.Token) bool {
	return s.deps.Reconciler.Changes().Unsubscribe(tok)
}

// OnHatched subscribes to hatch events, one per unit that emerges.
func (s *Synchronizer) OnHatched(fn func(structure.HatchEvent)) events.Token {
	return s.deps.Reconciler.Hatches().Subscribe(fn)
}

// OffHatched removes a hatch subscription.
func (s *Synchronizer) OffHatched(tok events.Token) bool {
	return s.deps.Reconciler.Hatches().Unsubscribe(tok)
}

// OnLifecycle subscribes to registration and removal events.
func (s *Synchronizer) OnLifecycle(fn func(structure.LifecycleEvent)) events.Token {
	return s.deps.Reconciler.Lifecycle().Subscribe(fn)
}

// OffLifecycle removes a lifecycle subscription.
func (s *Synchronizer) OffLifecycle(tok events.Token) bool {
	return s.deps.Reconciler.Lifecycle().Unsubscribe(tok)
}

// Discovered feeds an engine-side discovery into reconciliation. The game
// engine calls this when a structure streams into the scene.
func (s *Synchronizer) Discovered(ctx context.Context, p protocol.StructureAppearedPayload) {
	s.deps.Reconciler.HandleDiscovered(ctx, p)
}

// Removed feeds an engine-side removal into reconciliation.
func (s *Synchronizer) Removed(ctx context.Context, p protocol.StructureRemovedPayload) {
	s.deps.Reconciler.HandleRemoved(ctx, p)
}

// GetState returns a copy of the cached structure. ok is false for ids
// the synchronizer is not tracking.
func (s *Synchronizer) GetState(id string) (structure.Structure, bool) {
	return s.deps.Registry.Lookup(id)
}

// Phase derives the structure's interaction phase for the current server
// time. Unknown ids report PhaseUnknown, same as a structure whose state
// has not reconciled yet.
func (s *Synchronizer) Phase(id string) structure.Phase {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return structure.PhaseUnknown
	}
	return machine.Phase(st.State, s.deps.Session.Now())
}

// Remaining returns the hatch time left. Anything not incubating reports
// zero.
func (s *Synchronizer) Remaining(id string) time.Duration {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return 0
	}
	inc, ok := st.State.(structure.Incubating)
	if !ok {
		return 0
	}
	return projection.Remaining(inc, s.deps.Session.Now())
}

// Progress returns hatch progress in [0, 1]. Anything not incubating
// reports zero.
func (s *Synchronizer) Progress(id string) float64 {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return 0
	}
	inc, ok := st.State.(structure.Incubating)
	if !ok {
		return 0
	}
	return projection.Progress(inc, s.deps.Session.Now())
}

// Accrued returns the income claimable from a pen right now, at the
// configured rate for its occupant's rarity and level. Anything not
// occupied reports zero.
func (s *Synchronizer) Accrued(id string) int64 {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return 0
	}
	pen, ok := st.State.(structure.Occupied)
	if !ok {
		return 0
	}
	rate := s.deps.Income.Rate(string(pen.Unit.Rarity), pen.Unit.Level)
	return projection.Accrued(pen, s.deps.Session.Now(), rate)
}

// Label renders the structure's nameplate line for the current frame:
// the hatch countdown while incubating, the occupant and its claimable
// income while occupied. Unknown ids render empty.
func (s *Synchronizer) Label(id string) string {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return ""
	}
	now := s.deps.Session.Now()
	switch machine.Phase(st.State, now) {
	case structure.PhaseEmpty:
		return "Empty"
	case structure.PhaseIncubating:
		inc := st.State.(structure.Incubating)
		return "Hatching " + format.Countdown(projection.Remaining(inc, now))
	case structure.PhaseReady:
		return "Ready to hatch!"
	case structure.PhaseOccupied:
		occ := st.State.(structure.Occupied)
		rate := s.deps.Income.Rate(string(occ.Unit.Rarity), occ.Unit.Level)
		return occ.Unit.Name + " +" + format.Amount(projection.Accrued(occ, now, rate))
	default:
		return "Syncing..."
	}
}

// Visible reports whether the structure's visuals are worth refreshing
// this frame. State tracking is unaffected: a structure outside the cull
// radius still reconciles, it just renders stale until the player comes
// back in range.
func (s *Synchronizer) Visible(id string) bool {
	st, ok := s.deps.Registry.Lookup(id)
	if !ok {
		return false
	}
	return s.deps.Gate.Admit(st.Anchor)
}

// Snapshot returns copies of every tracked structure, ordered by id.
func (s *Synchronizer) Snapshot() []structure.Structure {
	return s.deps.Registry.Snapshot()
}

// Stats returns the reconciliation counters.
func (s *Synchronizer) Stats() reconcile.Stats {
	return s.deps.Reconciler.Stats()
}

// TriggerPrimary fires the primary action of the structure's current
// phase and journals the round trip.
func (s *Synchronizer) TriggerPrimary(ctx context.Context, id string) (interact.Outcome, error) {
	return s.trigger(ctx, id, s.deps.Interact.TriggerPrimary)
}

// TriggerSecondary fires the secondary action of the structure's current
// phase and journals the round trip.
func (s *Synchronizer) TriggerSecondary(ctx context.Context, id string) (interact.Outcome, error) {
	return s.trigger(ctx, id, s.deps.Interact.TriggerSecondary)
}

func (s *Synchronizer) trigger(
	ctx context.Context,
	id string,
	fn func(context.Context, string) (interact.Outcome, error),
) (interact.Outcome, error) {
	st, _ := s.deps.Registry.Lookup(id)
	at := s.deps.Session.Now()

	start := time.Now()
	out, err := fn(ctx, id)
	if err != nil {
		// No call went out: the structure is unknown or its phase binds no
		// action. Nothing to journal.
		return out, err
	}

	s.journalRequest(out, st.Kind, at, time.Since(start))
	return out, nil
}

func (s *Synchronizer) journalRequest(out interact.Outcome, kind structure.Kind, at time.Time, rtt time.Duration) {
	if s.deps.Journal == nil {
		return
	}

	detail := ""
	if !out.Success {
		detail = out.Message
	}
	req := journal.RequestSample{
		At:          at,
		Command:     commandFor(out.Action, kind),
		StructureID: out.StructureID,
		Outcome:     classify(out),
		Detail:      detail,
		RTT:         rtt,
	}
	if err := s.deps.Journal.RecordRequest(req); err != nil {
		s.deps.Logger.Warn("failed to journal request",
			"command", req.Command,
			"structure", req.StructureID,
			"error", err,
		)
	}
}

// classify buckets an outcome for the request journal.
func classify(out interact.Outcome) string {
	switch {
	case out.Success:
		return "ok"
	case out.Err == nil:
		return "rejected"
	case errors.Is(out.Err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// commandFor names the wire call an action resolves to for the structure
// kind it ran against.
func commandFor(act structure.Action, kind structure.Kind) string {
	switch act {
	case structure.ActionPlace:
		if kind == structure.KindPen {
			return protocol.TypePlaceUnit
		}
		return protocol.TypePlaceEgg
	case structure.ActionSpeedUp:
		return protocol.TypeSpeedUpIncubation
	case structure.ActionCancel:
		return protocol.TypeCancelIncubation
	case structure.ActionHatch:
		return protocol.TypeHatchEgg
	case structure.ActionCollect:
		return protocol.TypeCollectFromPen
	case structure.ActionRemove:
		return protocol.TypeRemoveUnitFromPen
	default:
		return string(act)
	}
}
