// Package machine resolves the interaction phase of a structure and the
// actions its primary and secondary triggers map to. Everything here is a
// pure function of state and time. Transitions themselves never happen
// locally: the cache only moves to a new state when the server confirms one.
package machine

import (
	"time"

	"github.com/critterranch/structsync/internal/projection"
	"github.com/critterranch/structsync/pkg/structure"
)

// Phase classifies the interaction phase a structure is in at the given
// instant. A nil state means no state has been reconciled yet and yields
// PhaseUnknown; no action binds to it.
func Phase(state structure.State, now time.Time) structure.Phase {
	switch st := state.(type) {
	case structure.Empty:
		return structure.PhaseEmpty
	case structure.Incubating:
		if projection.Ready(st, now) {
			return structure.PhaseReady
		}
		return structure.PhaseIncubating
	case structure.Occupied:
		return structure.PhaseOccupied
	default:
		return structure.PhaseUnknown
	}
}

// Primary returns the action bound to the primary trigger in the current
// phase. The second return is false when no action is available.
func Primary(state structure.State, now time.Time) (structure.Action, bool) {
	switch Phase(state, now) {
	case structure.PhaseEmpty:
		return structure.ActionPlace, true
	case structure.PhaseIncubating:
		return structure.ActionSpeedUp, true
	case structure.PhaseReady:
		return structure.ActionHatch, true
	case structure.PhaseOccupied:
		return structure.ActionCollect, true
	default:
		return "", false
	}
}

// Secondary returns the action bound to the secondary trigger in the
// current phase. Empty structures have no secondary action.
func Secondary(state structure.State, now time.Time) (structure.Action, bool) {
	switch Phase(state, now) {
	case structure.PhaseIncubating, structure.PhaseReady:
		return structure.ActionCancel, true
	case structure.PhaseOccupied:
		return structure.ActionRemove, true
	default:
		return "", false
	}
}
