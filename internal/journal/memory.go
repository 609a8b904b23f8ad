package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

// StructureLog groups a structure with everything that happened to it.
type StructureLog struct {
	Structure    structure.Structure
	DiscoveredAt time.Time
	RemovedAt    *time.Time
	Changes      []structure.ChangeEvent
}

// Memory keeps the session journal in memory and exports JSON and GeoJSON
// files when the session ends.
type Memory struct {
	cfg config.MemoryConfig

	mu            sync.RWMutex
	sess          *session.Context
	clientVersion string
	structures    map[string]*StructureLog
	requests      []RequestSample
	performance   []PerformanceSample
	endedAt       time.Time

	lastExportPath string
}

// NewMemory creates a new memory journal.
func NewMemory(cfg config.MemoryConfig) *Memory {
	return &Memory{
		cfg:        cfg,
		structures: make(map[string]*StructureLog),
	}
}

// Init initializes the backend.
func (b *Memory) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Memory) Close() error {
	return nil
}

// StartSession begins recording. Any previous session's data is dropped.
func (b *Memory) StartSession(sess *session.Context, clientVersion string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sess = sess
	b.clientVersion = clientVersion
	b.structures = make(map[string]*StructureLog)
	b.requests = nil
	b.performance = nil
	b.endedAt = time.Time{}
	return nil
}

// EndSession finalizes and exports the session data.
func (b *Memory) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess == nil {
		return fmt.Errorf("no session started")
	}
	b.endedAt = time.Now().UTC()
	return b.export()
}

// RecordDiscovery registers a structure. Re-discovery of a known ID keeps
// the original entry so the first discovery time survives reconnects.
func (b *Memory) RecordDiscovery(st structure.Structure, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.structures[st.ID]; ok {
		return nil
	}
	b.structures[st.ID] = &StructureLog{
		Structure:    st,
		DiscoveredAt: at,
		Changes:      make([]structure.ChangeEvent, 0),
	}
	return nil
}

// RecordRemoval marks a structure as gone. Unknown IDs are ignored.
func (b *Memory) RecordRemoval(structureID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if log, ok := b.structures[structureID]; ok {
		removed := at
		log.RemovedAt = &removed
	}
	return nil
}

// RecordChange appends a state change to its structure's log. Changes for
// unknown structures are ignored.
func (b *Memory) RecordChange(ev structure.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if log, ok := b.structures[ev.StructureID]; ok {
		log.Changes = append(log.Changes, ev)
	}
	return nil
}

// RecordRequest appends a request sample.
func (b *Memory) RecordRequest(req RequestSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return nil
}

// RecordPerformance appends a sync health sample.
func (b *Memory) RecordPerformance(sample PerformanceSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.performance = append(b.performance, sample)
	return nil
}

// StructureCount returns the number of structures recorded so far.
func (b *Memory) StructureCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.structures)
}

// ExportedFilePath returns the path of the JSON export written by
// EndSession, or empty before the session has ended.
func (b *Memory) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
