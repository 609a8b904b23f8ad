package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/journal"
	"github.com/critterranch/structsync/internal/reconcile"
)

func testHealthSample() journal.PerformanceSample {
	return journal.PerformanceSample{
		At:         time.Unix(1750000000, 0).UTC(),
		Structures: 4,
		Known:      4,
		Pending:    1,
		Overwrites: 2,
		Reconcile: reconcile.Stats{
			Applied:     3,
			PullsIssued: 5,
			PullsFailed: 1,
			StaleDrops:  2,
			Duplicates:  1,
		},
		DroppedPushes: 7,
		ClockOffset:   1900 * time.Millisecond,
		FlushDuration: 2500 * time.Microsecond,
	}
}

func TestNewManager_DefaultBucket(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	require.Equal(t, DefaultBucket, m.Bucket())
	require.Equal(t, []string{DefaultBucket}, m.BucketNames)
}

func TestNewManager_ConfiguredBucket(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "telemetry"}, zerolog.Nop(), "")
	require.Equal(t, "telemetry", m.Bucket())
	require.Equal(t, []string{"telemetry"}, m.BucketNames)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: false}, zerolog.Nop(), "")
	require.Error(t, m.Connect())
}

func TestConnect_FallsBackToBackupWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.lp.gz")
	cfg := config.InfluxConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     "1",
		Protocol: "http",
		Org:      "ranch-metrics",
		Bucket:   "telemetry",
	}

	m := NewManager(cfg, zerolog.Nop(), path)
	require.NoError(t, m.Connect())
	require.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	point := HealthPoint("dana-7", testHealthSample())
	require.NoError(t, m.WritePoint(context.Background(), m.Bucket(), point))
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, zr.Close())

	text := string(decoded)
	require.Contains(t, text, "sync_health,player=dana-7")
	require.Contains(t, text, "applied=3i")
}

func TestWritePoint_BackupWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.lp.gz")

	m := NewManager(config.InfluxConfig{Bucket: "telemetry"}, zerolog.Nop(), path)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)

	req := journal.RequestSample{
		At:          time.Unix(1750000100, 0).UTC(),
		Command:     "collect_income",
		StructureID: "pen-2",
		Outcome:     "ok",
		RTT:         8 * time.Millisecond,
	}
	require.NoError(t, m.WritePoint(context.Background(), m.Bucket(), RequestPoint("dana-7", req)))
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)

	text := string(decoded)
	require.Contains(t, text, "structure_request")
	require.Contains(t, text, "command=collect_income")
	require.Contains(t, text, "outcome=ok")
	require.Contains(t, text, `structureId="pen-2"`)
	require.Contains(t, text, "rttMs=8")
}

func TestWritePoint_NoClientNoBackup(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	err := m.WritePoint(context.Background(), m.Bucket(), HealthPoint("dana-7", testHealthSample()))
	require.Error(t, err)
}

func TestHealthPoint(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(HealthPoint("dana-7", testHealthSample()), time.Nanosecond)

	require.True(t, strings.HasPrefix(line, "sync_health,player=dana-7 "), line)
	require.Contains(t, line, "structures=4i")
	require.Contains(t, line, "pending=1i")
	require.Contains(t, line, "overwrites=2i")
	require.Contains(t, line, "applied=3i")
	require.Contains(t, line, "pullsIssued=5i")
	require.Contains(t, line, "pullsFailed=1i")
	require.Contains(t, line, "staleDrops=2i")
	require.Contains(t, line, "duplicates=1i")
	require.Contains(t, line, "droppedPushes=7i")
	require.Contains(t, line, "clockOffsetMs=1900i")
	require.Contains(t, line, "flushMs=2.5")
	require.Contains(t, line, "1750000000000000000")
}

func TestRequestPoint(t *testing.T) {
	req := journal.RequestSample{
		At:          time.Unix(1750000100, 0).UTC(),
		Command:     "hatch_structure",
		StructureID: "inc-1",
		Outcome:     "rejected",
		Detail:      "still incubating",
		RTT:         15250 * time.Microsecond,
	}
	line := influxdb2_write.PointToLineProtocol(RequestPoint("dana-7", req), time.Nanosecond)

	require.True(t, strings.HasPrefix(line, "structure_request,"), line)
	require.Contains(t, line, "player=dana-7")
	require.Contains(t, line, "command=hatch_structure")
	require.Contains(t, line, "outcome=rejected")
	require.Contains(t, line, `structureId="inc-1"`)
	require.Contains(t, line, "rttMs=15.25")
	require.Contains(t, line, `detail="still incubating"`)
}

func TestRequestPoint_NoDetail(t *testing.T) {
	req := journal.RequestSample{
		At:      time.Unix(1750000100, 0).UTC(),
		Command: "collect_income",
		Outcome: "ok",
		RTT:     time.Millisecond,
	}
	line := influxdb2_write.PointToLineProtocol(RequestPoint("dana-7", req), time.Nanosecond)
	require.NotContains(t, line, "detail=")
}
