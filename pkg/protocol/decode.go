package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/critterranch/structsync/pkg/structure"
)

// Validation errors returned by the Decode functions.
var (
	ErrMissingType        = errors.New("missing message type")
	ErrMissingStructureID = errors.New("missing structureId")
	ErrUnknownKind        = errors.New("unknown structure type")
	ErrUnknownAction      = errors.New("unknown action")
	ErrAmbiguousState     = errors.New("state payload sets both variants")
	ErrStateMismatch      = errors.New("state variant does not match structure type")
)

// DecodeStateChanged parses and validates a structure_state_changed payload.
func DecodeStateChanged(raw json.RawMessage) (StateChangedPayload, error) {
	var p StateChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return StateChangedPayload{}, fmt.Errorf("failed to parse state change: %w", err)
	}
	if p.StructureID == "" {
		return StateChangedPayload{}, ErrMissingStructureID
	}
	kind := structure.Kind(p.StructureType)
	if !kind.Valid() {
		return StateChangedPayload{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.StructureType)
	}
	if !structure.ChangeAction(p.Action).Valid() {
		return StateChangedPayload{}, fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
	if err := checkStateKind(p.State, kind); err != nil {
		return StateChangedPayload{}, err
	}
	return p, nil
}

// DecodeStructureAppeared parses and validates a structure_appeared payload.
// An empty Owner is legal; ownership filtering happens downstream.
func DecodeStructureAppeared(raw json.RawMessage) (StructureAppearedPayload, error) {
	var p StructureAppearedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return StructureAppearedPayload{}, fmt.Errorf("failed to parse discovery event: %w", err)
	}
	if p.StructureID == "" {
		return StructureAppearedPayload{}, ErrMissingStructureID
	}
	if !structure.Kind(p.StructureType).Valid() {
		return StructureAppearedPayload{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.StructureType)
	}
	return p, nil
}

// DecodeStructureRemoved parses and validates a structure_removed payload.
func DecodeStructureRemoved(raw json.RawMessage) (StructureRemovedPayload, error) {
	var p StructureRemovedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return StructureRemovedPayload{}, fmt.Errorf("failed to parse removal event: %w", err)
	}
	if p.StructureID == "" {
		return StructureRemovedPayload{}, ErrMissingStructureID
	}
	return p, nil
}

// DecodeTimeSync parses a time_sync payload.
func DecodeTimeSync(raw json.RawMessage) (TimeSyncPayload, error) {
	var p TimeSyncPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TimeSyncPayload{}, fmt.Errorf("failed to parse time sync: %w", err)
	}
	return p, nil
}

// DecodeWelcome parses a welcome payload.
func DecodeWelcome(raw json.RawMessage) (WelcomePayload, error) {
	var p WelcomePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return WelcomePayload{}, fmt.Errorf("failed to parse welcome: %w", err)
	}
	return p, nil
}

func checkStateKind(p *StatePayload, kind structure.Kind) error {
	if p == nil {
		return nil
	}
	if p.Incubator != nil && p.Pen != nil {
		return ErrAmbiguousState
	}
	if p.Incubator != nil && kind != structure.KindIncubator {
		return ErrStateMismatch
	}
	if p.Pen != nil && kind != structure.KindPen {
		return ErrStateMismatch
	}
	return nil
}

// ToState converts a wire state into the domain sum type. A nil payload
// and a payload with neither variant set both mean a known empty structure.
func ToState(p *StatePayload) (structure.State, error) {
	if p == nil {
		return structure.Empty{}, nil
	}
	if p.Incubator != nil && p.Pen != nil {
		return nil, ErrAmbiguousState
	}
	switch {
	case p.Incubator != nil:
		inc := p.Incubator
		return structure.Incubating{
			Rarity:        structure.Rarity(inc.Rarity),
			Variant:       inc.Variant,
			StartTime:     time.UnixMilli(inc.StartedAtMs),
			HatchDuration: time.Duration(inc.HatchSeconds * float64(time.Second)),
		}, nil
	case p.Pen != nil:
		pen := p.Pen
		return structure.Occupied{
			Unit: structure.Unit{
				ID:      pen.UnitID,
				Name:    pen.UnitName,
				Rarity:  structure.Rarity(pen.Rarity),
				Variant: pen.Variant,
				Level:   pen.Level,
			},
			LastCollectTime: time.UnixMilli(pen.LastCollectMs),
		}, nil
	default:
		return structure.Empty{}, nil
	}
}

// FromState converts a domain state into its wire form. Empty maps to nil,
// matching the null the server sends for emptied structures.
func FromState(s structure.State) *StatePayload {
	switch st := s.(type) {
	case structure.Incubating:
		return &StatePayload{Incubator: &IncubatorStatePayload{
			Rarity:       string(st.Rarity),
			Variant:      st.Variant,
			StartedAtMs:  st.StartTime.UnixMilli(),
			HatchSeconds: st.HatchDuration.Seconds(),
		}}
	case structure.Occupied:
		return &StatePayload{Pen: &PenStatePayload{
			UnitID:        st.Unit.ID,
			UnitName:      st.Unit.Name,
			Rarity:        string(st.Unit.Rarity),
			Variant:       st.Unit.Variant,
			Level:         st.Unit.Level,
			LastCollectMs: st.LastCollectTime.UnixMilli(),
		}}
	default:
		return nil
	}
}

// ToChangeEvent converts a validated state change payload into the domain
// event applied to the cache. A null wire state maps to a known Empty, so a
// push never leaves a structure in the unknown state.
func ToChangeEvent(p StateChangedPayload, at time.Time) (structure.ChangeEvent, error) {
	st, err := ToState(p.State)
	if err != nil {
		return structure.ChangeEvent{}, err
	}
	ev := structure.ChangeEvent{
		StructureID: p.StructureID,
		Kind:        structure.Kind(p.StructureType),
		Action:      structure.ChangeAction(p.Action),
		State:       st,
		At:          at,
	}
	if p.Aux != nil && p.Aux.Unit != nil {
		u := ToUnit(*p.Aux.Unit)
		ev.AuxUnit = &u
	}
	return ev, nil
}

// ToUnit converts a wire unit into the domain type.
func ToUnit(p UnitPayload) structure.Unit {
	return structure.Unit{
		ID:      p.UnitID,
		Name:    p.UnitName,
		Rarity:  structure.Rarity(p.Rarity),
		Variant: p.Variant,
		Level:   p.Level,
	}
}

// FromUnit converts a domain unit into its wire form.
func FromUnit(u structure.Unit) UnitPayload {
	return UnitPayload{
		UnitID:   u.ID,
		UnitName: u.Name,
		Rarity:   string(u.Rarity),
		Variant:  u.Variant,
		Level:    u.Level,
	}
}
