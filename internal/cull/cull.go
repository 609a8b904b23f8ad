// Package cull decides whether a structure is close enough to the player
// for its visuals to be worth refreshing. The decision never touches state
// application: far structures keep reconciling, their presentation just
// skips updates until the player is back in range.
package cull

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/geo"
)

// PositionSource supplies the player's current world position. ok is false
// while no position is known, for example before the player has spawned.
type PositionSource interface {
	Position() (geom.Point, bool)
}

// PositionFunc adapts a function to the PositionSource interface.
type PositionFunc func() (geom.Point, bool)

func (f PositionFunc) Position() (geom.Point, bool) { return f() }

// Gate reports whether anchors are within refresh range of the player.
type Gate struct {
	cfg    config.CullConfig
	source PositionSource
}

// New creates a gate from config and a position source.
func New(cfg config.CullConfig, source PositionSource) *Gate {
	return &Gate{cfg: cfg, source: source}
}

// Admit reports whether the anchor is within the refresh radius. A nil or
// disabled gate, a missing source, or an unknown player position admit
// everything.
func (g *Gate) Admit(anchor geom.Point) bool {
	if g == nil || !g.cfg.Enabled || g.source == nil {
		return true
	}
	pos, ok := g.source.Position()
	if !ok || pos.IsEmpty() {
		return true
	}
	return geo.Distance(pos, anchor) <= g.cfg.Radius
}
