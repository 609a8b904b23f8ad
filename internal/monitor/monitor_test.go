package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/journal"
	"github.com/critterranch/structsync/internal/pending"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

type fakeRecorder struct {
	mu    sync.Mutex
	perf  []journal.PerformanceSample
	flush time.Duration
}

func (f *fakeRecorder) Init() error  { return nil }
func (f *fakeRecorder) Close() error { return nil }
func (f *fakeRecorder) StartSession(*session.Context, string) error {
	return nil
}
func (f *fakeRecorder) EndSession() error { return nil }
func (f *fakeRecorder) RecordDiscovery(structure.Structure, time.Time) error {
	return nil
}
func (f *fakeRecorder) RecordRemoval(string, time.Time) error    { return nil }
func (f *fakeRecorder) RecordChange(structure.ChangeEvent) error { return nil }
func (f *fakeRecorder) RecordRequest(journal.RequestSample) error {
	return nil
}
func (f *fakeRecorder) RecordPerformance(s journal.PerformanceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perf = append(f.perf, s)
	return nil
}
func (f *fakeRecorder) LastFlushDuration() time.Duration { return f.flush }

func (f *fakeRecorder) samples() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.perf)
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()

	store := registry.NewStore()
	buf := pending.NewBuffer()
	sess := session.NewContext("player-1", "Dana")
	rec := reconcile.NewService(reconcile.Dependencies{
		Registry: store,
		Pending:  buf,
		Session:  sess,
	})

	return Dependencies{
		Config:     config.MonitorConfig{Interval: 10 * time.Millisecond},
		Reconciler: rec,
		Registry:   store,
		Pending:    buf,
		Session:    sess,
	}
}

func TestNewService_DefaultInterval(t *testing.T) {
	s := NewService(Dependencies{})
	if s.deps.Config.Interval != time.Second {
		t.Fatalf("expected 1s default interval, got %v", s.deps.Config.Interval)
	}
}

func TestSnapshot(t *testing.T) {
	deps := testDeps(t)

	deps.Registry.Register(structure.Structure{ID: "inc-1", Kind: structure.KindIncubator, Owner: "player-1"})
	deps.Registry.Register(structure.Structure{ID: "pen-1", Kind: structure.KindPen, Owner: "player-1"})
	deps.Registry.SetState("inc-1", structure.Empty{}, time.Now())

	// Two pushes for an unregistered structure: one buffered slot, one
	// overwrite, both counted by the reconciler.
	for i := 0; i < 2; i++ {
		deps.Reconciler.HandleStateChanged(context.Background(), structure.ChangeEvent{
			StructureID: "ghost-1",
			Action:      structure.ChangePlaced,
			State:       structure.Empty{},
			At:          time.Now(),
		})
	}

	s := NewService(deps)
	sample := s.Snapshot()

	if sample.Structures != 2 {
		t.Errorf("expected 2 structures, got %d", sample.Structures)
	}
	if sample.Known != 1 {
		t.Errorf("expected 1 known, got %d", sample.Known)
	}
	if sample.Pending != 1 {
		t.Errorf("expected 1 pending, got %d", sample.Pending)
	}
	if sample.Overwrites != 1 {
		t.Errorf("expected 1 overwrite, got %d", sample.Overwrites)
	}
	if sample.Reconcile.Buffered != 2 {
		t.Errorf("expected 2 buffered, got %d", sample.Reconcile.Buffered)
	}
	if sample.DroppedPushes != 0 {
		t.Errorf("expected no dropped pushes, got %d", sample.DroppedPushes)
	}
	if sample.ClockOffset != 0 {
		t.Errorf("expected zero clock offset, got %v", sample.ClockOffset)
	}
	if sample.At.IsZero() {
		t.Error("expected sample time to be set")
	}
}

func TestSnapshot_ClockOffset(t *testing.T) {
	deps := testDeps(t)
	now := time.Now()
	deps.Session.SyncClock(now.Add(2*time.Second).UnixMilli(), now)

	sample := NewService(deps).Snapshot()
	if sample.ClockOffset < 1900*time.Millisecond || sample.ClockOffset > 2100*time.Millisecond {
		t.Errorf("expected ~2s clock offset, got %v", sample.ClockOffset)
	}
}

func TestSnapshot_FlushTimer(t *testing.T) {
	deps := testDeps(t)
	deps.Journal = &fakeRecorder{flush: 42 * time.Millisecond}

	sample := NewService(deps).Snapshot()
	if sample.FlushDuration != 42*time.Millisecond {
		t.Errorf("expected 42ms flush duration, got %v", sample.FlushDuration)
	}
}

func TestStatus(t *testing.T) {
	sample := journal.PerformanceSample{
		At:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Structures: 4,
		Known:      3,
		Pending:    1,
		Reconcile: reconcile.Stats{
			Applied:     6,
			PullsIssued: 5,
		},
		DroppedPushes: 7,
		ClockOffset:   1900 * time.Millisecond,
		FlushDuration: 2500 * time.Microsecond,
	}

	text := string(Status(sample))
	for _, want := range []string{
		`"time": "2026-03-01T12:00:00Z"`,
		`"structures": 4`,
		`"known": 3`,
		`"applied": 6`,
		`"pullsIssued": 5`,
		`"droppedPushes": 7`,
		`"clockOffsetMs": 1900`,
		`"flushMs": 2.5`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("status output missing %s:\n%s", want, text)
		}
	}
}

func TestStartStop(t *testing.T) {
	deps := testDeps(t)
	deps.Registry.Register(structure.Structure{ID: "inc-1", Kind: structure.KindIncubator, Owner: "player-1"})

	rec := &fakeRecorder{}
	deps.Journal = rec
	deps.Config.StatusFile = filepath.Join(t.TempDir(), "status.json")

	s := NewService(deps)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("expected monitor to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.samples() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.samples() == 0 {
		t.Fatal("expected at least one performance sample")
	}

	s.Stop()
	if s.IsRunning() {
		t.Fatal("expected monitor to be stopped")
	}

	data, err := os.ReadFile(deps.Config.StatusFile)
	if err != nil {
		t.Fatalf("reading status file: %v", err)
	}
	if !strings.Contains(string(data), `"structures": 1`) {
		t.Errorf("status file missing structure count:\n%s", data)
	}

	// Stopping twice is a no-op.
	s.Stop()
}

func TestStart_AlreadyRunning(t *testing.T) {
	s := NewService(testDeps(t))
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
}
