package model

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/critterranch/structsync/internal/geo"
	"github.com/critterranch/structsync/internal/machine"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// NewSession builds the session row from the live session context. The
// plot fields stay zero until the welcome message has been applied.
func NewSession(sess *session.Context, clientVersion string) Session {
	row := Session{
		Tag:             sess.SessionID(),
		PlayerID:        sess.PlayerID(),
		PlayerName:      sess.PlayerName(),
		StartTime:       sess.StartedAt(),
		ClientVersion:   clientVersion,
		ProtocolVersion: protocol.Version,
		PlotOrigin: geom.NewPoint(geom.Coordinates{
			XY:   sess.PlotOrigin(),
			Type: geom.DimXY,
		}),
	}
	if bounds, ok := sess.PlotBounds(); ok {
		row.PlotBounds = datatypes.JSON(geo.FormatBoundary(bounds))
	}
	if offset, ok := sess.Offset(); ok {
		row.ClockOffsetMs = offset.Milliseconds()
	}
	return row
}

// NewStructureRecord builds the journal row for a registered structure.
// The anchor is journaled three ways: wire form, world WKB, and WGS84 for
// map tooling.
func NewStructureRecord(sessionID uint, st structure.Structure, discoveredAt time.Time) StructureRecord {
	lon, lat := geo.WorldToLatLon(st.Anchor)
	var elev float64
	if coords, ok := st.Anchor.Coordinates(); ok {
		elev = coords.Z
	}
	return StructureRecord{
		SessionID:    sessionID,
		StructureID:  st.ID,
		Kind:         string(st.Kind),
		OwnerID:      st.Owner,
		AnchorRaw:    geo.FormatAnchor(st.Anchor),
		Anchor:       st.Anchor,
		Elevation:    elev,
		Longitude:    lon,
		Latitude:     lat,
		DiscoveredAt: discoveredAt,
	}
}

// NewStateChangeRecord builds the journal row for one applied change. The
// phase column is projected at apply time so the journal can be queried
// without replaying timers.
func NewStateChangeRecord(sessionID uint, ev structure.ChangeEvent) StateChangeRecord {
	rec := StateChangeRecord{
		Time:        ev.At,
		SessionID:   sessionID,
		StructureID: ev.StructureID,
		Kind:        string(ev.Kind),
		Action:      string(ev.Action),
		Phase:       string(machine.Phase(ev.State, ev.At)),
	}

	switch st := ev.State.(type) {
	case structure.Incubating:
		rec.Rarity = string(st.Rarity)
	case structure.Occupied:
		rec.Rarity = string(st.Unit.Rarity)
		rec.UnitID = st.Unit.ID
	}

	if sp := protocol.FromState(ev.State); sp != nil {
		if raw, err := json.Marshal(sp); err == nil {
			rec.State = datatypes.JSON(raw)
		}
	}
	if ev.AuxUnit != nil {
		if raw, err := json.Marshal(protocol.FromUnit(*ev.AuxUnit)); err == nil {
			rec.HatchedUnit = datatypes.JSON(raw)
		}
	}
	return rec
}

// NewRequestRecord builds the journal row for one outbound request.
func NewRequestRecord(sessionID uint, at time.Time, command, structureID, outcome, detail string, rtt time.Duration) RequestRecord {
	return RequestRecord{
		Time:        at,
		SessionID:   sessionID,
		Command:     command,
		StructureID: structureID,
		Outcome:     outcome,
		Detail:      detail,
		DurationMs:  float32(float64(rtt) / float64(time.Millisecond)),
	}
}
