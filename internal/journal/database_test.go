package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/database"
	"github.com/critterranch/structsync/internal/model"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

// newTestDatabase builds a database journal on a file-backed SQLite DB.
func newTestDatabase(t *testing.T) (*Database, *database.Manager) {
	t.Helper()

	m := database.NewManager(config.DBConfig{}, zerolog.Nop())
	db, err := m.OpenSqlite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	m.DB = db
	m.IsValid = true
	require.NoError(t, m.Setup())
	t.Cleanup(func() { m.Close() })

	b := NewDatabase(config.DatabaseStorageConfig{}, m, nil)
	sess := session.NewContext("player-1", "Dana")
	require.NoError(t, b.StartSession(sess, "0.3.0"))
	return b, m
}

func TestDatabase_StartSessionCreatesRow(t *testing.T) {
	b, m := newTestDatabase(t)

	require.NotZero(t, b.currentSession())

	var row model.Session
	require.NoError(t, m.DB.First(&row, b.currentSession()).Error)
	assert.Equal(t, "player-1", row.PlayerID)
	assert.Equal(t, "0.3.0", row.ClientVersion)
	assert.False(t, row.EndTime.Valid)
}

func TestDatabase_RecordQueuesRows(t *testing.T) {
	b, _ := newTestDatabase(t)

	now := time.Now().UTC()
	require.NoError(t, b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), now))
	require.NoError(t, b.RecordChange(structure.ChangeEvent{
		StructureID: "inc-1",
		Kind:        structure.KindIncubator,
		Action:      structure.ChangePlaced,
		State:       structure.Incubating{StartTime: now, HatchDuration: time.Minute},
		At:          now,
	}))
	require.NoError(t, b.RecordRequest(RequestSample{At: now, Command: "place_egg", Outcome: "ok"}))
	require.NoError(t, b.RecordPerformance(PerformanceSample{At: now, Structures: 1}))

	assert.Equal(t, 1, b.queues.Structures.Len())
	assert.Equal(t, 1, b.queues.StateChanges.Len())
	assert.Equal(t, 1, b.queues.Requests.Len())
	assert.Equal(t, 1, b.queues.Performance.Len())
}

func TestDatabase_FlushWritesRows(t *testing.T) {
	b, m := newTestDatabase(t)

	now := time.Now().UTC()
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), now)
	_ = b.RecordChange(structure.ChangeEvent{
		StructureID: "inc-1",
		Kind:        structure.KindIncubator,
		Action:      structure.ChangePlaced,
		State:       structure.Incubating{StartTime: now, HatchDuration: time.Minute},
		At:          now,
	})
	_ = b.RecordRequest(RequestSample{At: now, Command: "place_egg", Outcome: "ok", RTT: 8 * time.Millisecond})
	_ = b.RecordPerformance(PerformanceSample{
		At:         now,
		Structures: 1,
		Known:      1,
		Reconcile:  reconcile.Stats{Applied: 3},
	})

	require.NoError(t, b.Flush())

	assert.Equal(t, 0, b.queues.Structures.Len())
	assert.Greater(t, b.LastFlushDuration(), time.Duration(0))

	var structures, changes, requests, performance int64
	m.DB.Model(&model.StructureRecord{}).Count(&structures)
	m.DB.Model(&model.StateChangeRecord{}).Count(&changes)
	m.DB.Model(&model.RequestRecord{}).Count(&requests)
	m.DB.Model(&model.SyncPerformance{}).Count(&performance)
	assert.Equal(t, int64(1), structures)
	assert.Equal(t, int64(1), changes)
	assert.Equal(t, int64(1), requests)
	assert.Equal(t, int64(1), performance)

	var perf model.SyncPerformance
	require.NoError(t, m.DB.First(&perf).Error)
	assert.Equal(t, uint32(3), perf.Reconcile.Applied)
}

func TestDatabase_FlushIgnoresRediscovery(t *testing.T) {
	b, m := newTestDatabase(t)

	now := time.Now().UTC()
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), now)
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), now.Add(time.Minute))

	require.NoError(t, b.Flush())

	var count int64
	m.DB.Model(&model.StructureRecord{}).Count(&count)
	assert.Equal(t, int64(1), count, "re-discovery must not duplicate the structure row")
}

func TestDatabase_RemovalStampsRow(t *testing.T) {
	b, m := newTestDatabase(t)

	now := time.Now().UTC()
	_ = b.RecordDiscovery(testStructure("pen-1", structure.KindPen), now)
	require.NoError(t, b.Flush())

	_ = b.RecordRemoval("pen-1", now.Add(time.Minute))
	require.NoError(t, b.Flush())

	var row model.StructureRecord
	require.NoError(t, m.DB.Where("structure_id = ?", "pen-1").First(&row).Error)
	assert.True(t, row.RemovedAt.Valid)
}

func TestDatabase_EndSessionSetsEndTime(t *testing.T) {
	b, m := newTestDatabase(t)

	require.NoError(t, b.EndSession())

	var row model.Session
	require.NoError(t, m.DB.First(&row, b.currentSession()).Error)
	assert.True(t, row.EndTime.Valid)
}

func TestDatabase_InitClose(t *testing.T) {
	b, _ := newTestDatabase(t)

	require.NoError(t, b.Init())
	require.NoError(t, b.Close())

	// Close is idempotent.
	require.NoError(t, b.Close())
}

func TestDatabase_FactorySelection(t *testing.T) {
	_, m := newTestDatabase(t)

	rec, err := New(config.StorageConfig{Type: "database"}, m, nil)
	require.NoError(t, err)
	_, ok := rec.(*Database)
	assert.True(t, ok)

	rec, err = New(config.StorageConfig{Type: "memory"}, nil, nil)
	require.NoError(t, err)
	_, ok = rec.(*Memory)
	assert.True(t, ok)

	_, err = New(config.StorageConfig{Type: "carrier-pigeon"}, nil, nil)
	require.Error(t, err)

	_, err = New(config.StorageConfig{Type: "database"}, nil, nil)
	require.Error(t, err)
}
