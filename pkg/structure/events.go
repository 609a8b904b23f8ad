package structure

import "time"

// ChangeEvent is published after a state change has been applied to the
// local cache. AuxUnit is only set on Hatched changes and carries the unit
// that left the incubator.
type ChangeEvent struct {
	StructureID string
	Kind        Kind
	Action      ChangeAction
	State       State
	AuxUnit     *Unit
	At          time.Time
}

// HatchEvent is the one-shot notification carried by a Hatched push's
// auxiliary payload. The hatched unit goes to the player's inventory, not
// into incubator state, so it is delivered as an event rather than cached.
type HatchEvent struct {
	StructureID string
	Unit        Unit
}

// LifecycleEvent reports registration and removal so presentation layers
// can create or destroy the visuals attached to a structure.
type LifecycleEvent struct {
	StructureID string
	Kind        Kind
	Registered  bool
	At          time.Time
}
