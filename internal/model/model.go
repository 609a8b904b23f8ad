package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent
// tables in the journal schema. The same models migrate on Postgres and on
// the SQLite fallback; anchors are stored as WKB blobs so neither dialect
// needs a GIS extension.
var DatabaseModels = []interface{}{
	&Session{},
	&StructureRecord{},
	&StateChangeRecord{},
	&RequestRecord{},
	&SyncPerformance{},
}

////////////////////////
// SESSION MODELS
////////////////////////

// Session is one connection of one player to the ranch server, from
// identify to disconnect. Every journal row hangs off a session.
type Session struct {
	gorm.Model
	Tag             string         `json:"tag" gorm:"size:64;uniqueIndex"` // client-assigned uuid, stable across reconnects
	PlayerID        string         `json:"playerId" gorm:"size:64;index:idx_session_player_id"`
	PlayerName      string         `json:"playerName" gorm:"size:127"`
	StartTime       time.Time      `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime         sql.NullTime   `json:"endTime" gorm:"type:timestamptz"`
	ClientVersion   string         `json:"clientVersion" gorm:"size:64"`
	ProtocolVersion int            `json:"protocolVersion" gorm:"default:1"`
	PlotOrigin      geom.Point     `json:"plotOrigin"`    // world coordinates from the welcome message
	PlotBounds      datatypes.JSON `json:"plotBounds"`    // boundary vertex list as announced
	ClockOffsetMs   int64          `json:"clockOffsetMs"` // last recorded server-minus-local offset

	Structures   []StructureRecord
	StateChanges []StateChangeRecord
	Requests     []RequestRecord
	Performance  []SyncPerformance
}

func (*Session) TableName() string {
	return "sessions"
}

////////////////////////
// JOURNAL MODELS
////////////////////////

// StructureRecord is one structure registered during a session.
// Uses composite primary key (SessionID, StructureID) - StructureID is the
// server-assigned id, never reused while the structure exists.
type StructureRecord struct {
	SessionID   uint      `json:"sessionId" gorm:"primaryKey;autoIncrement:false"`
	StructureID string    `json:"structureId" gorm:"primaryKey;size:64"`
	Session     Session   `gorm:"foreignkey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Kind         string       `json:"kind" gorm:"size:16"`                                                          // incubator or pen
	OwnerID      string       `json:"ownerId" gorm:"size:64;index:idx_structure_owner"`                             // owning player id
	AnchorRaw    string       `json:"anchor" gorm:"size:64"`                                                        // plot-local anchor exactly as announced
	Anchor       geom.Point   `json:"-"`                                                                            // world coordinates, plot origin applied
	Elevation    float64      `json:"elevation"`                                                                    // Z component of the anchor
	Longitude    float64      `json:"longitude"`                                                                    // WGS84, derived for map tooling
	Latitude     float64      `json:"latitude"`                                                                     // WGS84, derived for map tooling
	DiscoveredAt time.Time    `json:"discoveredAt" gorm:"type:timestamptz;NOT NULL;index:idx_structure_discovered"` // server time when the announcement was applied
	RemovedAt    sql.NullTime `json:"removedAt" gorm:"type:timestamptz"`                                            // server time of the removal, null while present

	StateChanges []StateChangeRecord `gorm:"foreignkey:SessionID,StructureID;references:SessionID,StructureID"`
}

func (*StructureRecord) TableName() string {
	return "structure_records"
}

// StateChangeRecord is one applied state transition for a structure.
// References StructureRecord by (SessionID, StructureID) composite FK.
type StateChangeRecord struct {
	ID          uint            `json:"id" gorm:"primarykey;autoIncrement;"`
	Time        time.Time       `json:"time" gorm:"type:timestamptz;"` // server time when the change was applied
	SessionID   uint            `json:"sessionId" gorm:"index:idx_statechange_session_id"`
	Session     Session         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	StructureID string          `json:"structureId" gorm:"size:64;index:idx_statechange_structure_id"`
	Structure   StructureRecord `gorm:"foreignkey:SessionID,StructureID;references:SessionID,StructureID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	Kind        string         `json:"kind" gorm:"size:16"`                // incubator or pen
	Action      string         `json:"action" gorm:"size:16"`              // Initial, Placed, Hatched, Cancelled, Collected, Removed
	Phase       string         `json:"phase" gorm:"size:16"`               // phase projected from the new state at apply time
	Rarity      string         `json:"rarity" gorm:"size:16"`              // rarity of the egg or critter involved, empty when none
	UnitID      string         `json:"unitId" gorm:"size:64;default:NULL"` // critter involved, empty when none
	State       datatypes.JSON `json:"state"`                              // full state snapshot in wire form, null when emptied
	HatchedUnit datatypes.JSON `json:"hatchedUnit"`                        // aux unit on Hatched changes only
}

func (*StateChangeRecord) TableName() string {
	return "state_change_records"
}

// RequestRecord is one outbound request and its outcome. Pull requests
// issued by the reconciler land here next to player-triggered interactions.
type RequestRecord struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"` // server time when the request was sent
	SessionID uint      `json:"sessionId" gorm:"index:idx_request_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`

	Command     string  `json:"command" gorm:"size:32"` // wire type of the request
	StructureID string  `json:"structureId" gorm:"size:64;index:idx_request_structure_id"`
	Outcome     string  `json:"outcome" gorm:"size:16"` // ok, rejected, timeout, transport
	Detail      string  `json:"detail" gorm:"size:255"` // server message on rejection, error text otherwise
	DurationMs  float32 `json:"durationMs"`             // round trip time
}

func (*RequestRecord) TableName() string {
	return "request_records"
}

////////////////////////
// PERFORMANCE MODELS
////////////////////////

// SyncPerformance is a periodic sample of synchronizer health.
type SyncPerformance struct {
	Time      time.Time `json:"time" gorm:"type:timestamptz;index:idx_syncperf_time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_syncperf_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`

	Cache           CacheLengths    `json:"cache" gorm:"embedded;embeddedPrefix:cache_"`
	Reconcile       ReconcileCounts `json:"reconcile" gorm:"embedded;embeddedPrefix:reconcile_"`
	DroppedPushes   uint32          `json:"droppedPushes"`   // pushes shed by the transport buffer
	ClockOffsetMs   int32           `json:"clockOffsetMs"`   // server-minus-local offset at sample time
	FlushDurationMs float32         `json:"flushDurationMs"` // duration of the last journal flush
}

func (*SyncPerformance) TableName() string {
	return "sync_performances"
}

// CacheLengths is the model for the cache sizes
type CacheLengths struct {
	Structures uint16 `json:"structures"` // registered structures
	Known      uint16 `json:"known"`      // structures with reconciled state
	Pending    uint16 `json:"pending"`    // buffered pushes awaiting registration
	Overwrites uint16 `json:"overwrites"` // buffered pushes replaced by newer ones
}

// ReconcileCounts is the model for the reconciliation outcome counters
type ReconcileCounts struct {
	Applied          uint32 `json:"applied"`
	Buffered         uint32 `json:"buffered"`
	PendingConsumed  uint32 `json:"pendingConsumed"`
	PullsIssued      uint32 `json:"pullsIssued"`
	PullsFailed      uint32 `json:"pullsFailed"`
	StaleDrops       uint32 `json:"staleDrops"`
	SkippedOwnerless uint32 `json:"skippedOwnerless"`
	SkippedForeign   uint32 `json:"skippedForeign"`
	SkippedCulled    uint32 `json:"skippedCulled"`
	Duplicates       uint32 `json:"duplicates"`
	Removed          uint32 `json:"removed"`
}
