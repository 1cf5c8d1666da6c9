package storage

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/bitmap"
	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// Volatile is the in-RAM storage tier (spec.md §4.3). Per the "arena + slot index" design
// note (spec.md §9), add_object never serializes bytes: it registers the wrapper's live
// core object in a slot of its own resident arena and hands back a UID carrying that slot
// index, so the backend contract (init/remove/get_object/add_object) stays identical
// across tiers at the cost of nothing beyond an allocator bit flip — spec.md §4.3's
// "block accounting for parity" note.
type Volatile struct {
	mu    sync.Mutex
	alloc *bitmap.Allocator // one bit per slot; blockSize is fixed at 1 "slot"
	slots []*wrapper.Wrapper

	cost int64

	hits, misses atomic.Int64
}

// NewVolatile creates a tier with room for capacitySlots resident objects.
func NewVolatile(capacitySlots int, cost int64) *Volatile {
	cmn.Assert(capacitySlots > 0)
	return &Volatile{
		alloc: bitmap.New(int64(capacitySlots), 1),
		slots: make([]*wrapper.Wrapper, capacitySlots),
		cost:  cost,
	}
}

func (v *Volatile) Init() error { return nil }

func (v *Volatile) AddObject(_ context.Context, w *wrapper.Wrapper) (uid.UID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	offset, ok := v.alloc.Allocate(1)
	if !ok {
		return uid.Zero, cmn.WrapOutOfStorage("volatile backend: arena full at %d slots", len(v.slots))
	}
	slot := uint64(offset)
	v.slots[slot] = w
	return uid.FromVolatileSlot(w.UID().ObjectType(), slot), nil
}

func (v *Volatile) GetObject(_ context.Context, _ int, id uid.UID, w *wrapper.Wrapper) error {
	slot := id.VolatileSlot()

	v.mu.Lock()
	var stored *wrapper.Wrapper
	if slot < uint64(len(v.slots)) {
		stored = v.slots[slot]
	}
	v.mu.Unlock()

	if stored == nil {
		v.misses.Inc()
		return cmn.WrapMiss("volatile backend: slot %d is empty", slot)
	}
	v.hits.Inc()
	w.SetCore(stored.Core())
	w.SetUID(id)
	return nil
}

func (v *Volatile) Remove(_ context.Context, id uid.UID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	slot := id.VolatileSlot()
	if slot >= uint64(len(v.slots)) || v.slots[slot] == nil {
		return cmn.WrapNotFound("volatile backend: slot %d already empty", slot)
	}
	v.slots[slot] = nil
	v.alloc.Free(int64(slot), 1)
	return nil
}

func (v *Volatile) AccessCost(uint16) int64 { return v.cost }

// Stats returns (hits, misses) for observability; mirrors memsys.Slab's counters.
func (v *Volatile) Stats() (hits, misses int64) { return v.hits.Load(), v.misses.Load() }

var _ Backend = (*Volatile)(nil)
