// Package protocol defines the wire protocol between the client and the
// ranch server: one JSON envelope per websocket frame, a type tag per
// message, and typed payloads for pushes, requests and responses.
package protocol

import "encoding/json"

// Version is bumped on incompatible wire changes. The server rejects
// identify messages carrying a version it does not speak.
const Version = 1

// Message type constants. Client to server:
const (
	TypeIdentify              = "identify"
	TypeGetStructureState     = "get_structure_state"
	TypeGetAllStructureStates = "get_all_structure_states"
	TypePlaceEgg              = "place_egg"
	TypeSpeedUpIncubation     = "speed_up_incubation"
	TypeCancelIncubation      = "cancel_incubation"
	TypeHatchEgg              = "hatch_egg"
	TypePlaceUnit             = "place_unit"
	TypeCollectFromPen        = "collect_from_pen"
	TypeRemoveUnitFromPen     = "remove_unit_from_pen"
)

// Server to client:
const (
	TypeWelcome           = "welcome"
	TypeTimeSync          = "time_sync"
	TypeStructureAppeared = "structure_appeared"
	TypeStructureRemoved  = "structure_removed"
	TypeStateChanged      = "structure_state_changed"
	TypeError             = "error"
)

// Envelope wraps every message in both directions. RequestID is set on
// requests and echoed on the matching response; pushes leave it empty.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload produces an
// envelope with no payload field.
func NewEnvelope(msgType, requestID string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, RequestID: requestID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// DecodeEnvelope parses a raw websocket frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}
