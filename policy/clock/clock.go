// Package clock implements the CLOCK replacement policy of spec.md §4.6.2: a fixed
// circular array sized to capacity, a sweeping hand, and a per-slot signed weight
// (-1 means empty) driven by the tree's posted access depth instead of a boolean
// reference bit.
//
// Grounded on lru/lru.go's eviction-loop shape generalized from a linked-list tail walk
// to a circular array walk of at most one revolution, decrementing positive weights as
// it passes them; when that revolution reclaims nothing, the admission is dropped.
// The hand's starting position for each admission is hashed from a per-call counter
// with xxhash, the way aistore's cmn package uses OneOfOne/xxhash to spread keys instead
// of clustering them.
package clock

import (
	"context"
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"
	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/policy"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

const emptyWeight = -1

type slot struct {
	w      *wrapper.Wrapper
	id     uid.UID
	weight int
	used   bool
}

// Clock is the resident structure of spec.md §4.6.2.
type Clock struct {
	mu sync.Mutex

	backend policy.Backend
	slots   []slot
	hand    int
	byUID   map[uid.UID]int

	nextSlotID atomic.Uint64
}

// New constructs a CLOCK policy with an array of exactly capacity slots.
func New(capacity int, backend policy.Backend) *Clock {
	cmn.Assert(capacity > 0)
	slots := make([]slot, capacity)
	for i := range slots {
		slots[i].weight = emptyWeight
	}
	return &Clock{backend: backend, slots: slots, byUID: make(map[uid.UID]int, capacity)}
}

func (c *Clock) Init() error { return c.backend.Init() }

func (c *Clock) GetObject(ctx context.Context, degree int, id uid.UID) (*wrapper.Wrapper, error) {
	c.mu.Lock()
	if idx, ok := c.byUID[id]; ok {
		w := c.slots[idx].w
		c.mu.Unlock()
		return w, nil
	}
	c.mu.Unlock()

	if id == uid.Zero {
		return nil, cmn.WrapMiss("clock: zero uid was never issued")
	}

	w := &wrapper.Wrapper{}
	if err := c.backend.GetObject(ctx, degree, id, w); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.place(ctx, id, w, 0)
	c.mu.Unlock()
	return w, nil
}

func (c *Clock) CreateObjectOfType(objectType uint16, core wrapper.CoreObject) (uid.UID, *wrapper.Wrapper) {
	// Hash a per-call counter to pick the hand's starting point for this admission,
	// spreading fresh insertions across the array instead of clustering at slot 0
	// whenever the array isn't already under eviction pressure (the hand only moves
	// during evictForSlot otherwise).
	hint := xxhash.ChecksumString64S(objectHintKey(objectType, c.nextSlotID.Inc()-1), 0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hand = int(hint % uint64(len(c.slots)))
	return c.placeNew(context.Background(), objectType, core, 0)
}

func objectHintKey(objectType uint16, n uint64) string {
	return fmt.Sprintf("%d:%d", objectType, n)
}

// placeNew finds a slot via evict_item_from_cache and constructs a fresh wrapper whose
// UID carries that slot index, per the "arena + slot index" design note: a CLOCK UID's
// volatile payload IS the array index, not an externally generated value. Returns
// uid.Zero and a nil wrapper when no slot could be reclaimed. Must be called with c.mu
// held.
func (c *Clock) placeNew(ctx context.Context, objectType uint16, core wrapper.CoreObject, depth int) (uid.UID, *wrapper.Wrapper) {
	idx := c.evictForSlot(ctx)
	if idx < 0 {
		return uid.Zero, nil
	}
	id := uid.FromVolatileSlot(objectType, uint64(idx))
	w := wrapper.New(id, core)
	c.slots[idx] = slot{w: w, id: id, weight: depth, used: true}
	c.byUID[id] = idx
	return id, w
}

// place installs an already-fetched wrapper (a backend hit) into a slot chosen the same
// way, leaving it non-resident when no slot could be reclaimed. Must be called with c.mu
// held.
func (c *Clock) place(ctx context.Context, id uid.UID, w *wrapper.Wrapper, depth int) {
	idx := c.evictForSlot(ctx)
	if idx < 0 {
		return
	}
	c.slots[idx] = slot{w: w, id: id, weight: depth, used: true}
	c.byUID[id] = idx
}

// evictForSlot implements evict_item_from_cache: starting from the hand, walk at most one
// revolution, returning the first empty slot or the first reclaimable zero-weight slot.
// In-use slots are skipped, positive weights are decremented by one and skipped, and
// dependent-guarded or failed-writeback slots are skipped. It returns -1 when the
// revolution reclaims nothing, e.g. when every slot still carried a positive weight at
// the start of the call. Must be called with c.mu held.
func (c *Clock) evictForSlot(ctx context.Context) int {
	n := len(c.slots)
	for i := 0; i < n; i++ {
		idx := c.hand
		c.hand = (c.hand + 1) % n
		s := &c.slots[idx]

		if s.weight == emptyWeight {
			return idx
		}
		if s.w.InUse() {
			continue
		}
		if s.weight > 0 {
			s.weight--
			continue
		}
		// weight == 0, not in use.
		if !s.w.TryLock() {
			continue
		}
		if s.w.IsMarkDelete() {
			if s.w.UID().IsPersisted() {
				if err := c.backend.Remove(ctx, s.w.UID()); err != nil {
					cmn.Log.Warningf("clock: remove of mark-deleted object failed: %v", err)
				}
			}
		} else if s.w.HaveDependentsInCache() {
			s.weight = 0
			s.w.Unlock()
			continue
		} else if s.w.IsDirty() {
			s.w.BeginWriteback()
			newID, err := c.backend.AddObject(ctx, s.w)
			s.w.EndWriteback()
			if err != nil {
				s.w.Unlock()
				cmn.Log.Warningf("clock: writeback failed, leaving resident: %v", err)
				continue
			}
			s.w.SetUIDUpdated(newID)
			s.w.ClearDirty()
		}
		s.w.Unlock()

		delete(c.byUID, s.id)
		*s = slot{weight: emptyWeight}
		return idx
	}
	return -1
}

// UpdateAccessMetadata sets each entry's weight to its posted depth (spec.md §4.6.2:
// "weight to depth_remaining + optional cost term"; cost weighting is configured
// separately and defaults to off, so the term is zero here), inserting via
// evict_item_from_cache if the wrapper isn't already in the array.
func (c *Clock) UpdateAccessMetadata(entries []policy.AccessEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		id := e.Wrapper.UID()
		if idx, ok := c.byUID[id]; ok {
			c.slots[idx].weight = e.Depth
		} else {
			c.place(context.Background(), id, e.Wrapper, e.Depth)
		}
		e.Wrapper.DecUse()
	}
}

func (c *Clock) UpdateAccessMetadataPairs(pairs []policy.AccessPair) {
	entries := make([]policy.AccessEntry, 0, len(pairs)*2)
	for _, p := range pairs {
		entries = append(entries, policy.AccessEntry{Wrapper: p.Primary}, policy.AccessEntry{Wrapper: p.Affected})
	}
	c.UpdateAccessMetadata(entries)
}

func (c *Clock) UpdateAccessMetadataDeleteTriples(triples []policy.DeleteTriple) {
	entries := make([]policy.AccessEntry, 0, len(triples)*2)
	for _, t := range triples {
		entries = append(entries, policy.AccessEntry{Wrapper: t.Primary}, policy.AccessEntry{Wrapper: t.AffectedSibling})
		t.ToDiscard.DecUse()
	}
	c.UpdateAccessMetadata(entries)
}

func (c *Clock) Remove(ctx context.Context, w *wrapper.Wrapper) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.byUID[w.UID()]
	if !ok {
		return cmn.WrapNotFound("clock: remove of non-resident uid %s", w.UID())
	}
	if w.UID().IsPersisted() {
		if err := c.backend.Remove(ctx, w.UID()); err != nil {
			return err
		}
	}
	delete(c.byUID, w.UID())
	c.slots[idx] = slot{weight: emptyWeight}
	return nil
}

func (c *Clock) Flush(ctx context.Context, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := range c.slots {
		s := &c.slots[idx]
		if s.weight == emptyWeight {
			continue
		}
		s.w.Lock()
		if s.w.IsDirty() {
			s.w.BeginWriteback()
			newID, err := c.backend.AddObject(ctx, s.w)
			s.w.EndWriteback()
			if err != nil {
				s.w.Unlock()
				return err
			}
			s.w.SetUIDUpdated(newID)
			s.w.ClearDirty()
		}
		s.w.Unlock()
		delete(c.byUID, s.id)
		*s = slot{weight: emptyWeight}
	}
	return nil
}

func (c *Clock) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byUID)
}

var _ policy.Policy = (*Clock)(nil)
