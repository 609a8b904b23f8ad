// Package structure defines the domain model for server-owned ranch
// structures: their identity, their occupancy state, and the events the
// synchronizer publishes about them.
package structure

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Kind identifies the structure type. Fixed for the structure's lifetime.
type Kind string

const (
	KindIncubator Kind = "incubator"
	KindPen       Kind = "pen"
)

// Valid reports whether k is a known structure kind.
func (k Kind) Valid() bool {
	return k == KindIncubator || k == KindPen
}

// Structure is the client-side mirror of one server-owned entity.
type Structure struct {
	ID     string     // stable server-assigned id, never reused while the structure exists
	Kind   Kind       // incubator or pen
	Anchor geom.Point // world position; owned by the discovery subsystem, read-only here
	Owner  string     // owning player id; foreign structures are never registered

	// State is the only mutable field. nil means no state has been
	// reconciled yet, which is distinct from a known Empty.
	State   State
	StateAt time.Time // when State was last replaced
}

// Known reports whether any state has been reconciled for the structure.
func (s Structure) Known() bool {
	return s.State != nil
}
