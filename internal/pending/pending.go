// Package pending buffers state pushes that arrive before the structure
// they belong to is registered. One slot is kept per structure ID and a
// newer push overwrites an older one. That loss is deliberate: pushes are
// absolute snapshots, so the latest one alone reproduces the current state,
// and the buffer can never grow past the number of unregistered structures.
// Overwrites are still counted so a spike shows up in the stats.
package pending

import (
	"sync"

	"github.com/critterranch/structsync/pkg/structure"
)

// Buffer holds at most one pending change per structure ID.
type Buffer struct {
	m          sync.Mutex
	slots      map[string]structure.ChangeEvent
	overwrites int
}

func NewBuffer() *Buffer {
	return &Buffer{
		slots: make(map[string]structure.ChangeEvent),
	}
}

// Put stores the change, replacing any pending one for the same structure.
// It reports whether an earlier pending change was overwritten.
func (b *Buffer) Put(ev structure.ChangeEvent) bool {
	b.m.Lock()
	defer b.m.Unlock()
	_, had := b.slots[ev.StructureID]
	b.slots[ev.StructureID] = ev
	if had {
		b.overwrites++
	}
	return had
}

// Take removes and returns the pending change for the given structure.
func (b *Buffer) Take(id string) (structure.ChangeEvent, bool) {
	b.m.Lock()
	defer b.m.Unlock()
	ev, ok := b.slots[id]
	if !ok {
		return structure.ChangeEvent{}, false
	}
	delete(b.slots, id)
	return ev, true
}

// Len returns the number of structures with a pending change.
func (b *Buffer) Len() int {
	b.m.Lock()
	defer b.m.Unlock()
	return len(b.slots)
}

// Overwrites returns how many pending changes have been replaced by newer
// ones since the last reset.
func (b *Buffer) Overwrites() int {
	b.m.Lock()
	defer b.m.Unlock()
	return b.overwrites
}

func (b *Buffer) Reset() {
	b.m.Lock()
	defer b.m.Unlock()
	b.slots = make(map[string]structure.ChangeEvent)
	b.overwrites = 0
}
