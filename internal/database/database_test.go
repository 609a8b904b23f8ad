package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/model"
)

// newTestManager opens a file-backed SQLite DB in a temp dir so tests stay
// isolated from the shared in-memory database.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m := NewManager(config.DBConfig{}, zerolog.Nop())
	db, err := m.OpenSqlite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	m.DB = db
	m.IsValid = true

	require.NoError(t, m.Setup())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSetup_MigratesJournalSchema(t *testing.T) {
	m := newTestManager(t)

	for _, table := range []string{
		"sessions",
		"structure_records",
		"state_change_records",
		"request_records",
		"sync_performances",
	} {
		assert.True(t, m.DB.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	m := newTestManager(t)

	sess := model.Session{
		Tag:             "ranch-1",
		PlayerID:        "player-9",
		PlayerName:      "Dana",
		StartTime:       time.Now().UTC(),
		ProtocolVersion: 1,
	}
	require.NoError(t, m.DB.Create(&sess).Error)
	require.NotZero(t, sess.ID)

	var got model.Session
	require.NoError(t, m.DB.Where("tag = ?", "ranch-1").First(&got).Error)
	assert.Equal(t, "player-9", got.PlayerID)
	assert.Equal(t, "Dana", got.PlayerName)
	assert.False(t, got.EndTime.Valid)
}

func TestStructureStateChain(t *testing.T) {
	m := newTestManager(t)

	sess := model.Session{Tag: "ranch-2", StartTime: time.Now().UTC()}
	require.NoError(t, m.DB.Create(&sess).Error)

	rec := model.StructureRecord{
		SessionID:    sess.ID,
		StructureID:  "inc-1",
		Kind:         "incubator",
		OwnerID:      "player-9",
		AnchorRaw:    "10,20,0",
		DiscoveredAt: time.Now().UTC(),
	}
	require.NoError(t, m.DB.Create(&rec).Error)

	for _, action := range []string{"Placed", "Hatched"} {
		change := model.StateChangeRecord{
			Time:        time.Now().UTC(),
			SessionID:   sess.ID,
			StructureID: "inc-1",
			Kind:        "incubator",
			Action:      action,
		}
		require.NoError(t, m.DB.Create(&change).Error)
	}

	var count int64
	require.NoError(t, m.DB.Model(&model.StateChangeRecord{}).
		Where("session_id = ? AND structure_id = ?", sess.ID, "inc-1").
		Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDumpMemoryToDisk(t *testing.T) {
	m := NewManager(config.DBConfig{}, zerolog.Nop())
	db, err := m.OpenSqlite("")
	require.NoError(t, err)
	m.DB = db
	require.NoError(t, m.Setup())
	defer m.Close()

	sess := model.Session{Tag: "dump-test", StartTime: time.Now().UTC()}
	require.NoError(t, m.DB.Create(&sess).Error)

	m.SqliteFilePath = filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, m.DumpMemoryToDisk())

	info, err := os.Stat(m.SqliteFilePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// The dump must be a self-contained copy.
	reopened := NewManager(config.DBConfig{}, zerolog.Nop())
	rdb, err := reopened.OpenSqlite(m.SqliteFilePath)
	require.NoError(t, err)
	reopened.DB = rdb
	defer reopened.Close()

	var count int64
	require.NoError(t, rdb.Model(&model.Session{}).Where("tag = ?", "dump-test").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryToDisk_NoPathSet(t *testing.T) {
	m := NewManager(config.DBConfig{}, zerolog.Nop())
	err := m.DumpMemoryToDisk()
	require.Error(t, err)
}

func TestBackupDBPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.db"), 0o755))

	paths, err := BackupDBPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "a.db"), paths[0])
}
