package journal

import (
	"testing"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

func worldPoint(x, y, z float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    z,
		Type: geom.DimXYZ,
	})
}

func testStructure(id string, kind structure.Kind) structure.Structure {
	return structure.Structure{
		ID:     id,
		Kind:   kind,
		Anchor: worldPoint(111319, 111325, 5),
		Owner:  "player-1",
	}
}

func startedMemory(t *testing.T, cfg config.MemoryConfig) (*Memory, *session.Context) {
	t.Helper()
	b := NewMemory(cfg)
	sess := session.NewContext("player-1", "Dana")
	if err := b.StartSession(sess, "0.3.0"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return b, sess
}

func TestNewMemory(t *testing.T) {
	cfg := config.MemoryConfig{
		OutputDir:      "/tmp/journals",
		CompressOutput: true,
	}
	b := NewMemory(cfg)

	if b == nil {
		t.Fatal("NewMemory returned nil")
	}
	if b.cfg.OutputDir != "/tmp/journals" {
		t.Errorf("expected OutputDir=/tmp/journals, got %s", b.cfg.OutputDir)
	}
	if !b.cfg.CompressOutput {
		t.Error("expected CompressOutput=true")
	}
	if b.structures == nil {
		t.Error("structures map not initialized")
	}
}

func TestMemory_InitAndClose(t *testing.T) {
	b := NewMemory(config.MemoryConfig{})

	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestMemory_StartSessionResets(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), time.Now())
	_ = b.RecordRequest(RequestSample{Command: "hatch_structure"})
	if b.StructureCount() != 1 {
		t.Fatalf("expected 1 structure, got %d", b.StructureCount())
	}

	next := session.NewContext("player-1", "Dana")
	if err := b.StartSession(next, "0.3.0"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if b.StructureCount() != 0 {
		t.Error("structures not reset")
	}
	if len(b.requests) != 0 {
		t.Error("requests not reset")
	}
}

func TestMemory_RecordDiscovery_KeepsFirst(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), first)

	// Re-discovery after a reconnect must not reset the discovery time.
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), first.Add(time.Hour))

	if b.StructureCount() != 1 {
		t.Fatalf("expected 1 structure, got %d", b.StructureCount())
	}
	if got := b.structures["inc-1"].DiscoveredAt; !got.Equal(first) {
		t.Errorf("expected DiscoveredAt=%v, got %v", first, got)
	}
}

func TestMemory_RecordRemoval(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = b.RecordDiscovery(testStructure("pen-1", structure.KindPen), at)
	_ = b.RecordRemoval("pen-1", at.Add(time.Minute))

	log := b.structures["pen-1"]
	if log.RemovedAt == nil {
		t.Fatal("expected RemovedAt to be set")
	}
	if !log.RemovedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("unexpected RemovedAt: %v", log.RemovedAt)
	}

	// Unknown IDs are ignored.
	if err := b.RecordRemoval("missing", at); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMemory_RecordChange(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	now := time.Now().UTC()
	_ = b.RecordDiscovery(testStructure("inc-1", structure.KindIncubator), now)

	ev := structure.ChangeEvent{
		StructureID: "inc-1",
		Kind:        structure.KindIncubator,
		Action:      structure.ChangePlaced,
		State: structure.Incubating{
			Rarity:        structure.RarityRare,
			StartTime:     now,
			HatchDuration: 30 * time.Second,
		},
		At: now,
	}
	_ = b.RecordChange(ev)
	_ = b.RecordChange(structure.ChangeEvent{StructureID: "ghost", Action: structure.ChangeRemoved, At: now})

	changes := b.structures["inc-1"].Changes
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].Action != structure.ChangePlaced {
		t.Errorf("unexpected action: %s", changes[0].Action)
	}
}

func TestMemory_RecordSamples(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	_ = b.RecordRequest(RequestSample{
		At:      time.Now(),
		Command: "speed_up_structure",
		Outcome: "ok",
		RTT:     12 * time.Millisecond,
	})
	_ = b.RecordPerformance(PerformanceSample{At: time.Now(), Structures: 3})

	if len(b.requests) != 1 {
		t.Errorf("expected 1 request, got %d", len(b.requests))
	}
	if len(b.performance) != 1 {
		t.Errorf("expected 1 performance sample, got %d", len(b.performance))
	}
}

func TestMemory_EndSessionWithoutStart(t *testing.T) {
	b := NewMemory(config.MemoryConfig{})

	if err := b.EndSession(); err == nil {
		t.Error("expected error when ending a session that never started")
	}
}
