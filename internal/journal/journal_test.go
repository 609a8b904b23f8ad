package journal

import (
	"testing"
	"time"

	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/events"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/pkg/structure"
)

func TestAttach_RecordsFromStreams(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	reg := registry.NewStore()
	src := Streams{
		Registry:  reg,
		Changes:   events.NewEmitter[structure.ChangeEvent](),
		Lifecycle: events.NewEmitter[structure.LifecycleEvent](),
	}
	detach := Attach(b, src, nil)

	now := time.Now().UTC()
	st := testStructure("inc-1", structure.KindIncubator)
	reg.Register(st)
	src.Lifecycle.Emit(structure.LifecycleEvent{
		StructureID: "inc-1",
		Kind:        structure.KindIncubator,
		Registered:  true,
		At:          now,
	})

	if b.StructureCount() != 1 {
		t.Fatalf("expected discovery to be journaled, got %d structures", b.StructureCount())
	}

	src.Changes.Emit(structure.ChangeEvent{
		StructureID: "inc-1",
		Kind:        structure.KindIncubator,
		Action:      structure.ChangePlaced,
		State:       structure.Incubating{StartTime: now, HatchDuration: time.Minute},
		At:          now,
	})
	if got := len(b.structures["inc-1"].Changes); got != 1 {
		t.Fatalf("expected 1 journaled change, got %d", got)
	}

	src.Lifecycle.Emit(structure.LifecycleEvent{
		StructureID: "inc-1",
		Registered:  false,
		At:          now.Add(time.Minute),
	})
	if b.structures["inc-1"].RemovedAt == nil {
		t.Fatal("expected removal to be journaled")
	}

	// Detached streams stop recording.
	detach()
	src.Changes.Emit(structure.ChangeEvent{
		StructureID: "inc-1",
		Action:      structure.ChangeCancelled,
		At:          now,
	})
	if got := len(b.structures["inc-1"].Changes); got != 1 {
		t.Errorf("expected no change after detach, got %d", got)
	}
}

func TestAttach_UnregisteredLookupSkipped(t *testing.T) {
	b, _ := startedMemory(t, config.MemoryConfig{})

	src := Streams{
		Registry:  registry.NewStore(),
		Changes:   events.NewEmitter[structure.ChangeEvent](),
		Lifecycle: events.NewEmitter[structure.LifecycleEvent](),
	}
	defer Attach(b, src, nil)()

	// A registered event for an ID the registry does not hold records nothing.
	src.Lifecycle.Emit(structure.LifecycleEvent{
		StructureID: "ghost",
		Registered:  true,
		At:          time.Now(),
	})
	if b.StructureCount() != 0 {
		t.Errorf("expected no journaled structures, got %d", b.StructureCount())
	}
}
