// Package journal records what a session saw and did: every structure, every
// state change, every request issued, and periodic sync health samples.
// Backends differ in where the record lands; the memory backend exports
// files at session end, the database backend streams rows to Postgres.
package journal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/database"
	"github.com/critterranch/structsync/internal/events"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

// RequestSample describes one server call issued by a trigger press.
type RequestSample struct {
	At          time.Time
	Command     string
	StructureID string
	Outcome     string // "ok", "rejected", "timeout", "transport"
	Detail      string
	RTT         time.Duration
}

// PerformanceSample is a periodic snapshot of sync health.
type PerformanceSample struct {
	At            time.Time
	Structures    int
	Known         int
	Pending       int
	Overwrites    int
	Reconcile     reconcile.Stats
	DroppedPushes uint64
	ClockOffset   time.Duration
	FlushDuration time.Duration
}

// Recorder is the interface all journal backends satisfy. Record calls are
// invoked from event handlers and must return quickly.
type Recorder interface {
	Init() error
	Close() error

	StartSession(sess *session.Context, clientVersion string) error
	EndSession() error

	RecordDiscovery(st structure.Structure, at time.Time) error
	RecordRemoval(structureID string, at time.Time) error
	RecordChange(ev structure.ChangeEvent) error
	RecordRequest(req RequestSample) error
	RecordPerformance(sample PerformanceSample) error
}

// Uploadable is an optional interface for backends that produce a file
// suitable for upload to the ranch dashboard.
type Uploadable interface {
	ExportedFilePath() string
}

// FlushTimer is an optional interface for backends that write in batches.
type FlushTimer interface {
	LastFlushDuration() time.Duration
}

// New creates a journal backend based on configuration.
func New(cfg config.StorageConfig, db *database.Manager, log *slog.Logger) (Recorder, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.Memory), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database journal requires a connected database manager")
		}
		return NewDatabase(cfg.Database, db, log), nil
	default:
		return nil, fmt.Errorf("unknown journal backend: %s", cfg.Type)
	}
}

// Streams bundles the live event sources a journal records from. Discovery
// events carry only the structure ID, so the registry supplies the rest.
type Streams struct {
	Registry  registry.Registry
	Changes   *events.Emitter[structure.ChangeEvent]
	Lifecycle *events.Emitter[structure.LifecycleEvent]
}

// Attach subscribes rec to the live event streams. The returned function
// detaches the subscriptions. Handlers run on the reconciler's goroutine
// and only enqueue, so they cannot stall an apply.
func Attach(rec Recorder, src Streams, log *slog.Logger) func() {
	if log == nil {
		log = slog.Default()
	}

	changeTok := src.Changes.Subscribe(func(ev structure.ChangeEvent) {
		if err := rec.RecordChange(ev); err != nil {
			log.Warn("journal state change failed", "structure", ev.StructureID, "error", err)
		}
	})

	lifeTok := src.Lifecycle.Subscribe(func(ev structure.LifecycleEvent) {
		if !ev.Registered {
			if err := rec.RecordRemoval(ev.StructureID, ev.At); err != nil {
				log.Warn("journal removal failed", "structure", ev.StructureID, "error", err)
			}
			return
		}
		st, ok := src.Registry.Lookup(ev.StructureID)
		if !ok {
			return
		}
		if err := rec.RecordDiscovery(st, ev.At); err != nil {
			log.Warn("journal discovery failed", "structure", ev.StructureID, "error", err)
		}
	})

	return func() {
		src.Changes.Unsubscribe(changeTok)
		src.Lifecycle.Unsubscribe(lifeTok)
	}
}
