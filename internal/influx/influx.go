// Package influx ships sync-health telemetry to InfluxDB. When the
// database is unreachable, points are spooled to a gzip backup file in
// line protocol form so a later run can replay them.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/journal"
)

// DefaultBucket receives all synchronizer telemetry unless the config
// names another bucket.
const DefaultBucket = "structsync"

// Measurement names written by the synchronizer.
const (
	// MeasurementSyncHealth carries the periodic cache and reconciler
	// counters sampled by the monitor.
	MeasurementSyncHealth = "sync_health"
	// MeasurementRequest carries one point per completed structure
	// request with its round-trip time and outcome.
	MeasurementRequest = "structure_request"
)

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: []string{cfg.Bucket},
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Bucket returns the bucket telemetry points are written to.
func (m *Manager) Bucket() string {
	return m.cfg.Bucket
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return errors.New("influx.Enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(context.Background())

	if err != nil || !running {
		m.IsValid = false
		// create backup writer
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
	} else {
		m.IsValid = true
	}

	if m.IsValid {
		err = m.setupOrganizationAndBuckets()
		if err != nil {
			return err
		}
		m.CreateWriters()
		m.Logger.Info().Msg("InfluxDB client initialized")
	} else {
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	}

	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := m.cfg.Org

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// get influxOrg
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90, // 90 days
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)

		m.Logger.Trace().Str("bucket", bucket).Msg("InfluxDB writer created")
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		if _, ok := m.Writers[bucket]; !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		m.Writers[bucket].WritePoint(point)
	} else {
		if m.BackupWriter == nil {
			return fmt.Errorf("influxDB client not initialized and backup writer not available")
		}

		lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
		_, err := m.BackupWriter.Write([]byte(lineProtocol))
		if err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
		}
	}

	return nil
}

// Close flushes pending writes and shuts the client down. Spooled line
// protocol survives because the gzip stream is closed cleanly.
func (m *Manager) Close() error {
	if m.IsValid {
		for _, writer := range m.Writers {
			writer.Flush()
		}
		m.Client.Close()
		m.IsValid = false
	}

	if m.BackupWriter != nil {
		err := m.BackupWriter.Close()
		m.BackupWriter = nil
		if err != nil {
			return fmt.Errorf("error closing backup writer: %v", err)
		}
	}
	if m.backupFile != nil {
		err := m.backupFile.Close()
		m.backupFile = nil
		if err != nil {
			return fmt.Errorf("error closing backup file: %v", err)
		}
	}

	return nil
}

// HealthPoint renders a periodic sync-health sample as an InfluxDB point.
func HealthPoint(playerID string, sample journal.PerformanceSample) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementSyncHealth).
		AddTag("player", playerID).
		AddField("structures", sample.Structures).
		AddField("known", sample.Known).
		AddField("pending", sample.Pending).
		AddField("overwrites", sample.Overwrites).
		AddField("applied", sample.Reconcile.Applied).
		AddField("buffered", sample.Reconcile.Buffered).
		AddField("pendingConsumed", sample.Reconcile.PendingConsumed).
		AddField("pullsIssued", sample.Reconcile.PullsIssued).
		AddField("pullsFailed", sample.Reconcile.PullsFailed).
		AddField("staleDrops", sample.Reconcile.StaleDrops).
		AddField("skippedOwnerless", sample.Reconcile.SkippedOwnerless).
		AddField("skippedForeign", sample.Reconcile.SkippedForeign).
		AddField("skippedCulled", sample.Reconcile.SkippedCulled).
		AddField("duplicates", sample.Reconcile.Duplicates).
		AddField("removed", sample.Reconcile.Removed).
		AddField("droppedPushes", int64(sample.DroppedPushes)).
		AddField("clockOffsetMs", sample.ClockOffset.Milliseconds()).
		AddField("flushMs", float64(sample.FlushDuration.Microseconds())/1000.0).
		SetTime(sample.At)
}

// RequestPoint renders a completed structure request as an InfluxDB
// point. The structure id rides as a field, keeping series cardinality
// bound to player, command and outcome.
func RequestPoint(playerID string, req journal.RequestSample) *influxdb2_write.Point {
	point := influxdb2_write.NewPointWithMeasurement(MeasurementRequest).
		AddTag("player", playerID).
		AddTag("command", req.Command).
		AddTag("outcome", req.Outcome).
		AddField("structureId", req.StructureID).
		AddField("rttMs", float64(req.RTT.Microseconds())/1000.0).
		SetTime(req.At)
	if req.Detail != "" {
		point.AddField("detail", req.Detail)
	}
	return point
}
