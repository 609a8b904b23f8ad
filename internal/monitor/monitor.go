// Package monitor samples the synchronizer's health on a fixed interval:
// cache sizes, reconciliation counters, transport drops, clock offset and
// journal flush time. Each sample goes to the journal, to InfluxDB when a
// manager is wired, and into a status file that can be watched while the
// client runs.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/influx"
	"github.com/critterranch/structsync/internal/journal"
	"github.com/critterranch/structsync/internal/logging"
	"github.com/critterranch/structsync/internal/pending"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/internal/transport"
)

// Dependencies holds all dependencies for the monitor service.
// Transport, Journal, Influx and LogManager may be nil; the sample loop
// skips whatever is missing.
type Dependencies struct {
	Config     config.MonitorConfig
	Reconciler *reconcile.Service
	Registry   *registry.Store
	Pending    *pending.Buffer
	Transport  *transport.Client
	Session    *session.Context
	Journal    journal.Recorder
	Influx     *influx.Manager
	LogManager *logging.SlogManager
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Config.Interval <= 0 {
		deps.Config.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot collects the current cache sizes and counters into one sample.
func (s *Service) Snapshot() journal.PerformanceSample {
	sample := journal.PerformanceSample{
		At:         time.Now().UTC(),
		Structures: s.deps.Registry.Len(),
		Pending:    s.deps.Pending.Len(),
		Overwrites: s.deps.Pending.Overwrites(),
		Reconcile:  s.deps.Reconciler.Stats(),
	}

	for _, st := range s.deps.Registry.Snapshot() {
		if st.State != nil {
			sample.Known++
		}
	}

	if s.deps.Transport != nil {
		sample.DroppedPushes = s.deps.Transport.DroppedPushes()
	}
	if s.deps.Session != nil {
		if offset, ok := s.deps.Session.Offset(); ok {
			sample.ClockOffset = offset
		}
	}
	if timer, ok := s.deps.Journal.(journal.FlushTimer); ok {
		sample.FlushDuration = timer.LastFlushDuration()
	}

	return sample
}

// Status renders a sample as indented JSON for the status file.
func Status(sample journal.PerformanceSample) []byte {
	view := struct {
		Time          string          `json:"time"`
		Structures    int             `json:"structures"`
		Known         int             `json:"known"`
		Pending       int             `json:"pending"`
		Overwrites    int             `json:"overwrites"`
		Reconcile     reconcile.Stats `json:"reconcile"`
		DroppedPushes uint64          `json:"droppedPushes"`
		ClockOffsetMs int64           `json:"clockOffsetMs"`
		FlushMs       float64         `json:"flushMs"`
	}{
		Time:          sample.At.Format(time.RFC3339),
		Structures:    sample.Structures,
		Known:         sample.Known,
		Pending:       sample.Pending,
		Overwrites:    sample.Overwrites,
		Reconcile:     sample.Reconcile,
		DroppedPushes: sample.DroppedPushes,
		ClockOffsetMs: sample.ClockOffset.Milliseconds(),
		FlushMs:       float64(sample.FlushDuration.Microseconds()) / 1000.0,
	}

	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		out = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return out
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	go s.run()
	return nil
}

func (s *Service) run() {
	defer close(s.doneChan)

	logger := slog.Default()
	if s.deps.LogManager != nil {
		logger = s.deps.LogManager.Logger()
	}
	logger.Debug("starting status monitor", "interval", s.deps.Config.Interval)

	var statusFile *os.File
	if s.deps.Config.StatusFile != "" {
		var err error
		statusFile, err = os.Create(s.deps.Config.StatusFile)
		if err != nil {
			logger.Error("error creating status file", "error", err)
			statusFile = nil
		} else {
			defer statusFile.Close()
		}
	}

	ticker := time.NewTicker(s.deps.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sample(statusFile, logger)
		}
	}
}

func (s *Service) sample(statusFile *os.File, logger *slog.Logger) {
	sample := s.Snapshot()

	if statusFile != nil {
		statusFile.Truncate(0)
		statusFile.Seek(0, 0)
		statusFile.Write(Status(sample))
		statusFile.WriteString("\n")
	}

	if s.deps.Journal != nil {
		if err := s.deps.Journal.RecordPerformance(sample); err != nil {
			logger.Error("error journaling performance sample", "error", err)
		}
	}

	if s.deps.Influx != nil {
		playerID := ""
		if s.deps.Session != nil {
			playerID = s.deps.Session.PlayerID()
		}
		point := influx.HealthPoint(playerID, sample)
		if err := s.deps.Influx.WritePoint(context.Background(), s.deps.Influx.Bucket(), point); err != nil {
			logger.Error("error writing performance point", "error", err)
		}
	}
}

// Stop stops the status monitor and waits for the loop to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	<-done
}
