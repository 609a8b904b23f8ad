package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm/clause"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/database"
	"github.com/critterranch/structsync/internal/model"
	"github.com/critterranch/structsync/internal/queue"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

const defaultFlushInterval = 10 * time.Second

// rowQueues batches journal rows between flushes, one queue per table.
type rowQueues struct {
	Structures   *queue.Queue[model.StructureRecord]
	StateChanges *queue.Queue[model.StateChangeRecord]
	Requests     *queue.Queue[model.RequestRecord]
	Performance  *queue.Queue[model.SyncPerformance]
	Removals     *queue.Queue[removalMark]
}

// removalMark defers the removed_at update until the structure row has been
// flushed.
type removalMark struct {
	StructureID string
	At          time.Time
}

// Database journals to the database manager's connection, batching rows so
// recording never blocks on the network. A flush goroutine drains the
// queues on a fixed interval.
type Database struct {
	cfg     config.DatabaseStorageConfig
	manager *database.Manager
	log     *slog.Logger

	queues   *rowQueues
	stopChan chan struct{}
	doneChan chan struct{}

	mu        sync.Mutex
	sessionID uint
	lastFlush time.Duration
}

// NewDatabase creates a database journal on top of a connected manager.
func NewDatabase(cfg config.DatabaseStorageConfig, manager *database.Manager, log *slog.Logger) *Database {
	if log == nil {
		log = slog.Default()
	}
	return &Database{
		cfg:     cfg,
		manager: manager,
		log:     log,
		queues: &rowQueues{
			Structures:   queue.New[model.StructureRecord](),
			StateChanges: queue.New[model.StateChangeRecord](),
			Requests:     queue.New[model.RequestRecord](),
			Performance:  queue.New[model.SyncPerformance](),
			Removals:     queue.New[removalMark](),
		},
	}
}

// Init starts the flush goroutine.
func (b *Database) Init() error {
	if b.stopChan != nil {
		return nil
	}
	b.stopChan = make(chan struct{})
	b.doneChan = make(chan struct{})
	go b.flushLoop()
	return nil
}

func (b *Database) flushLoop() {
	defer close(b.doneChan)

	interval := b.cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("journal flush failed", "error", err)
			}
		case <-b.stopChan:
			if err := b.Flush(); err != nil {
				b.log.Warn("final journal flush failed", "error", err)
			}
			return
		}
	}
}

// Close stops the flush goroutine after a final flush. The database
// connection stays open; its owner closes it.
func (b *Database) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.doneChan
	b.stopChan = nil
	b.doneChan = nil
	return nil
}

// StartSession creates the session row all journal rows hang off.
func (b *Database) StartSession(sess *session.Context, clientVersion string) error {
	row := model.NewSession(sess, clientVersion)
	if err := b.manager.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create session row: %w", err)
	}

	b.mu.Lock()
	b.sessionID = row.ID
	b.mu.Unlock()

	b.log.Info("journal session started", "session", row.ID, "tag", row.Tag)
	return nil
}

// EndSession flushes outstanding rows and stamps the session end time. When
// the manager fell back to in-memory SQLite, the database is dumped to disk
// so the journal survives the process.
func (b *Database) EndSession() error {
	if err := b.Flush(); err != nil {
		return err
	}

	b.mu.Lock()
	sessionID := b.sessionID
	b.mu.Unlock()
	if sessionID == 0 {
		return fmt.Errorf("no session started")
	}

	err := b.manager.DB.Model(&model.Session{}).
		Where("id = ?", sessionID).
		Update("end_time", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to finalize session row: %w", err)
	}

	if b.manager.ShouldSaveLocal && b.manager.SqliteFilePath != "" {
		if err := b.manager.DumpMemoryToDisk(); err != nil {
			return err
		}
	}
	return nil
}

// RecordDiscovery queues a structure row.
func (b *Database) RecordDiscovery(st structure.Structure, at time.Time) error {
	b.queues.Structures.Push(model.NewStructureRecord(b.currentSession(), st, at))
	return nil
}

// RecordRemoval queues a removed_at update for the structure's row.
func (b *Database) RecordRemoval(structureID string, at time.Time) error {
	b.queues.Removals.Push(removalMark{StructureID: structureID, At: at})
	return nil
}

// RecordChange queues a state change row.
func (b *Database) RecordChange(ev structure.ChangeEvent) error {
	b.queues.StateChanges.Push(model.NewStateChangeRecord(b.currentSession(), ev))
	return nil
}

// RecordRequest queues a request row.
func (b *Database) RecordRequest(req RequestSample) error {
	b.queues.Requests.Push(model.NewRequestRecord(
		b.currentSession(), req.At, req.Command, req.StructureID,
		req.Outcome, req.Detail, req.RTT,
	))
	return nil
}

// RecordPerformance queues a sync health row.
func (b *Database) RecordPerformance(sample PerformanceSample) error {
	b.queues.Performance.Push(b.performanceRow(sample))
	return nil
}

// Flush drains every queue into the database. Failed batches are logged and
// dropped rather than re-queued, so one bad row cannot wedge the journal.
func (b *Database) Flush() error {
	if !b.manager.IsValid {
		return fmt.Errorf("database connection is not valid")
	}

	start := time.Now()
	var errs []error

	if rows := b.queues.Structures.Drain(); len(rows) > 0 {
		// Re-discovery after a reconnect hits the same primary key.
		err := b.manager.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		if err != nil {
			errs = append(errs, fmt.Errorf("structures: %w", err))
		}
	}
	if rows := b.queues.StateChanges.Drain(); len(rows) > 0 {
		if err := b.manager.DB.Create(&rows).Error; err != nil {
			errs = append(errs, fmt.Errorf("state changes: %w", err))
		}
	}
	if rows := b.queues.Requests.Drain(); len(rows) > 0 {
		if err := b.manager.DB.Create(&rows).Error; err != nil {
			errs = append(errs, fmt.Errorf("requests: %w", err))
		}
	}
	if rows := b.queues.Performance.Drain(); len(rows) > 0 {
		if err := b.manager.DB.Create(&rows).Error; err != nil {
			errs = append(errs, fmt.Errorf("performance: %w", err))
		}
	}
	for _, mark := range b.queues.Removals.Drain() {
		err := b.manager.DB.Model(&model.StructureRecord{}).
			Where("session_id = ? AND structure_id = ?", b.currentSession(), mark.StructureID).
			Update("removed_at", mark.At).Error
		if err != nil {
			errs = append(errs, fmt.Errorf("removal %s: %w", mark.StructureID, err))
		}
	}

	b.mu.Lock()
	b.lastFlush = time.Since(start)
	b.mu.Unlock()

	return errors.Join(errs...)
}

// LastFlushDuration returns how long the most recent flush took.
func (b *Database) LastFlushDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlush
}

// ExportedFilePath returns the SQLite dump path when the session was
// journaled locally, or empty when rows went to Postgres.
func (b *Database) ExportedFilePath() string {
	if b.manager.ShouldSaveLocal {
		return b.manager.SqliteFilePath
	}
	return ""
}

func (b *Database) currentSession() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Database) performanceRow(s PerformanceSample) model.SyncPerformance {
	return model.SyncPerformance{
		Time:      s.At,
		SessionID: b.currentSession(),
		Cache: model.CacheLengths{
			Structures: uint16(s.Structures),
			Known:      uint16(s.Known),
			Pending:    uint16(s.Pending),
			Overwrites: uint16(s.Overwrites),
		},
		Reconcile: model.ReconcileCounts{
			Applied:          uint32(s.Reconcile.Applied),
			Buffered:         uint32(s.Reconcile.Buffered),
			PendingConsumed:  uint32(s.Reconcile.PendingConsumed),
			PullsIssued:      uint32(s.Reconcile.PullsIssued),
			PullsFailed:      uint32(s.Reconcile.PullsFailed),
			StaleDrops:       uint32(s.Reconcile.StaleDrops),
			SkippedOwnerless: uint32(s.Reconcile.SkippedOwnerless),
			SkippedForeign:   uint32(s.Reconcile.SkippedForeign),
			SkippedCulled:    uint32(s.Reconcile.SkippedCulled),
			Duplicates:       uint32(s.Reconcile.Duplicates),
			Removed:          uint32(s.Reconcile.Removed),
		},
		DroppedPushes:   uint32(s.DroppedPushes),
		ClockOffsetMs:   int32(s.ClockOffset.Milliseconds()),
		FlushDurationMs: float32(s.FlushDuration) / float32(time.Millisecond),
	}
}

// Interface checks.
var (
	_ Recorder   = (*Database)(nil)
	_ Recorder   = (*Memory)(nil)
	_ Uploadable = (*Database)(nil)
	_ Uploadable = (*Memory)(nil)
	_ FlushTimer = (*Database)(nil)
)
