package protocol

// IdentifyPayload is the first message after connect and is replayed on
// every reconnect.
type IdentifyPayload struct {
	PlayerID        string `json:"playerId"`
	PlayerName      string `json:"playerName,omitempty"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// WelcomePayload acknowledges identify and carries the server clock and the
// player's plot origin in world coordinates.
type WelcomePayload struct {
	ServerTimeMs int64  `json:"serverTimeMs"`
	PlotOrigin   string `json:"plotOrigin,omitempty"` // "x,y" world coordinates
	PlotBounds   string `json:"plotBounds,omitempty"` // "[[x,y],...]" world coordinates
}

// TimeSyncPayload is pushed periodically so the client can correct clock
// drift.
type TimeSyncPayload struct {
	ServerTimeMs int64 `json:"serverTimeMs"`
}

// StructureAppearedPayload announces a structure present in the local
// world. Owner may be empty when ownership has not replicated yet; the
// server re-announces once it has.
type StructureAppearedPayload struct {
	StructureID   string `json:"structureId"`
	StructureType string `json:"structureType"`
	Owner         string `json:"owner,omitempty"`
	Anchor        string `json:"anchor"` // "x,y[,z]" plot-local coordinates
}

// StructureRemovedPayload announces a structure leaving the local world
// (despawned or plot unloaded).
type StructureRemovedPayload struct {
	StructureID string `json:"structureId"`
}

// StatePayload is the wire form of a structure state. At most one of
// Incubator and Pen is set; both nil means the structure is empty.
type StatePayload struct {
	Incubator *IncubatorStatePayload `json:"incubator,omitempty"`
	Pen       *PenStatePayload       `json:"pen,omitempty"`
}

// IncubatorStatePayload describes an egg being incubated.
type IncubatorStatePayload struct {
	Rarity       string  `json:"rarity"`
	Variant      string  `json:"variant,omitempty"`
	StartedAtMs  int64   `json:"startedAtMs"`  // server clock, unix ms
	HatchSeconds float64 `json:"hatchSeconds"` // total hatch duration
}

// PenStatePayload describes the critter occupying a pen.
type PenStatePayload struct {
	UnitID        string `json:"unitId"`
	UnitName      string `json:"unitName,omitempty"`
	Rarity        string `json:"rarity"`
	Variant       string `json:"variant,omitempty"`
	Level         int    `json:"level"`
	LastCollectMs int64  `json:"lastCollectMs"` // server clock, unix ms
}

// UnitPayload identifies a critter in responses and aux payloads.
type UnitPayload struct {
	UnitID   string `json:"unitId"`
	UnitName string `json:"unitName,omitempty"`
	Rarity   string `json:"rarity"`
	Variant  string `json:"variant,omitempty"`
	Level    int    `json:"level"`
}

// StateChangedPayload is the push notification for one structure. State is
// null when the change emptied the structure; Aux rides along on Hatched
// pushes only.
type StateChangedPayload struct {
	StructureID   string        `json:"structureId"`
	StructureType string        `json:"structureType"`
	Action        string        `json:"action"`
	State         *StatePayload `json:"state"`
	Aux           *AuxPayload   `json:"aux,omitempty"`
}

// AuxPayload carries one-shot event data that does not belong in cached
// state.
type AuxPayload struct {
	Unit *UnitPayload `json:"unit,omitempty"`
}

// StateRequest asks for the current state of one structure; it is also the
// request shape for speed-up, cancel, hatch, collect and remove.
type StateRequest struct {
	StructureID string `json:"structureId"`
}

// PlaceEggRequest places an egg from the player's inventory into an
// incubator.
type PlaceEggRequest struct {
	StructureID string `json:"structureId"`
	EggGUID     string `json:"eggGuid"`
}

// PlaceUnitRequest places a critter from the player's inventory into a pen.
type PlaceUnitRequest struct {
	StructureID string `json:"structureId"`
	UnitGUID    string `json:"unitGuid"`
}

// StateResponse answers get_structure_state. State is null for a known
// empty structure.
type StateResponse struct {
	State *StatePayload `json:"state"`
}

// AllStatesResponse answers get_all_structure_states; used for diagnostics.
// Map values are null for empty structures.
type AllStatesResponse struct {
	Incubators map[string]*StatePayload `json:"incubators"`
	Pens       map[string]*StatePayload `json:"pens"`
}

// ActionResponse is the generic mutation outcome.
type ActionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HatchResponse answers hatch_egg; Unit is set on success.
type HatchResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Unit    *UnitPayload `json:"unit,omitempty"`
}

// CollectResponse answers collect_from_pen and remove_unit_from_pen;
// Amount is the income collected as part of the call.
type CollectResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Amount  int64  `json:"amount"`
}

// ErrorPayload is sent by the server for malformed or unroutable requests.
type ErrorPayload struct {
	Message string `json:"message"`
}
