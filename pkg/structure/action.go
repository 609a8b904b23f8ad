package structure

// Phase is the interaction phase derived from kind, state and the current
// time. PhaseIncubating versus PhaseReady is purely a function of time; it
// is never stored.
type Phase string

const (
	PhaseUnknown    Phase = "Unknown"    // no state reconciled yet
	PhaseEmpty      Phase = "Empty"      // nothing placed
	PhaseIncubating Phase = "Incubating" // egg placed, hatch timer running
	PhaseReady      Phase = "Ready"      // hatch timer elapsed
	PhaseOccupied   Phase = "Occupied"   // pen holds a critter
)

// Action is a client-initiated structure interaction.
type Action string

const (
	ActionPlace   Action = "Place"
	ActionSpeedUp Action = "SpeedUp"
	ActionCancel  Action = "Cancel"
	ActionHatch   Action = "Hatch"
	ActionCollect Action = "Collect"
	ActionRemove  Action = "Remove"
)

// ChangeAction tags a server state-change notification with what happened.
type ChangeAction string

const (
	ChangeInitial   ChangeAction = "Initial"   // baseline state, not a transition
	ChangePlaced    ChangeAction = "Placed"    // egg or critter placed
	ChangeHatched   ChangeAction = "Hatched"   // egg hatched; aux payload carries the unit
	ChangeCancelled ChangeAction = "Cancelled" // incubation cancelled, egg returned
	ChangeCollected ChangeAction = "Collected" // pen income collected
	ChangeRemoved   ChangeAction = "Removed"   // critter removed from pen
)

// Valid reports whether a is a known change action.
func (a ChangeAction) Valid() bool {
	switch a {
	case ChangeInitial, ChangePlaced, ChangeHatched, ChangeCancelled, ChangeCollected, ChangeRemoved:
		return true
	default:
		return false
	}
}
