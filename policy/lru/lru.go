// Package lru implements the LRU replacement policy of spec.md §4.6.1: a doubly-linked
// list with MRU at head, batched access-metadata updates, and tail-first eviction.
//
// Grounded on lru/lru.go's jogBck/walk/evict shape (per-pass scan until quiescent,
// throttle on pressure) adapted from aistore's per-mountpath filesystem walk to an
// in-memory arena: nodes live in a slice instead of being discovered by directory walk,
// and "atime" is simply head-to-tail position instead of a stat()'d timestamp.
package lru

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/policy"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// pendingThreshold is the batch size at which update_objects_access_metadata's posted
// path is processed, per spec.md §4.6.1 ("≈5000 entries").
const pendingThreshold = 5000

type node struct {
	w          *wrapper.Wrapper
	id         uid.UID
	prev, next int // -1 is the sentinel
	seen       bool
	live       bool
}

// LRU is the resident structure of spec.md §4.6.1.
type LRU struct {
	mu sync.Mutex

	capacity int
	backend  policy.Backend

	nodes []node
	free  []int
	byUID map[uid.UID]int
	head  int
	tail  int

	nextSlot atomic.Uint64

	pending         []policy.AccessEntry
	updateInOrder   bool // optional build flag (spec.md §4.6.1): disables batching
}

// New constructs an LRU policy over backend with room for capacity resident objects.
// updateInOrder mirrors the "update-in-order" build flag: when true, every posted access
// unlinks and prepends immediately instead of accumulating in the pending batch.
func New(capacity int, backend policy.Backend, updateInOrder bool) *LRU {
	cmn.Assert(capacity > 0)
	return &LRU{
		capacity:      capacity,
		backend:       backend,
		byUID:         make(map[uid.UID]int, capacity),
		head:          -1,
		tail:          -1,
		updateInOrder: updateInOrder,
	}
}

func (l *LRU) Init() error { return l.backend.Init() }

func (l *LRU) GetObject(ctx context.Context, degree int, id uid.UID) (*wrapper.Wrapper, error) {
	l.mu.Lock()
	if idx, ok := l.byUID[id]; ok {
		l.moveToHead(idx)
		w := l.nodes[idx].w
		l.mu.Unlock()
		return w, nil
	}
	l.mu.Unlock()

	if id == uid.Zero {
		return nil, cmn.WrapMiss("lru: zero uid was never issued")
	}

	w := &wrapper.Wrapper{}
	if err := l.backend.GetObject(ctx, degree, id, w); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.insertResident(id, w)
	l.evictIfOverCapacity(ctx)
	l.mu.Unlock()
	return w, nil
}

func (l *LRU) CreateObjectOfType(objectType uint16, core wrapper.CoreObject) (uid.UID, *wrapper.Wrapper) {
	slot := l.nextSlot.Inc() - 1
	id := uid.FromVolatileSlot(objectType, slot)
	w := wrapper.New(id, core)

	l.mu.Lock()
	l.insertResident(id, w)
	l.evictIfOverCapacity(context.Background())
	l.mu.Unlock()
	return id, w
}

// insertResident must be called with l.mu held.
func (l *LRU) insertResident(id uid.UID, w *wrapper.Wrapper) {
	idx := l.allocNode()
	l.nodes[idx] = node{w: w, id: id, prev: -1, next: -1, live: true}
	l.byUID[id] = idx
	l.prependHead(idx)
}

func (l *LRU) allocNode() int {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		return idx
	}
	l.nodes = append(l.nodes, node{})
	return len(l.nodes) - 1
}

func (l *LRU) unlink(idx int) {
	n := &l.nodes[idx]
	if n.prev != -1 {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != -1 {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = -1, -1
}

func (l *LRU) prependHead(idx int) {
	n := &l.nodes[idx]
	n.prev = -1
	n.next = l.head
	if l.head != -1 {
		l.nodes[l.head].prev = idx
	}
	l.head = idx
	if l.tail == -1 {
		l.tail = idx
	}
}

func (l *LRU) moveToHead(idx int) {
	if l.head == idx {
		return
	}
	l.unlink(idx)
	l.prependHead(idx)
}

func (l *LRU) UpdateAccessMetadata(entries []policy.AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.updateInOrder {
		for _, e := range entries {
			if idx, ok := l.byUID[e.Wrapper.UID()]; ok {
				l.moveToHead(idx)
			}
			e.Wrapper.DecUse()
		}
		return
	}

	l.pending = append(l.pending, entries...)
	for _, e := range entries {
		e.Wrapper.DecUse()
	}
	if len(l.pending) >= pendingThreshold {
		l.drainPendingLocked()
	}
}

func (l *LRU) UpdateAccessMetadataPairs(pairs []policy.AccessPair) {
	entries := make([]policy.AccessEntry, 0, len(pairs)*2)
	for _, p := range pairs {
		entries = append(entries, policy.AccessEntry{Wrapper: p.Primary}, policy.AccessEntry{Wrapper: p.Affected})
	}
	l.UpdateAccessMetadata(entries)
}

func (l *LRU) UpdateAccessMetadataDeleteTriples(triples []policy.DeleteTriple) {
	entries := make([]policy.AccessEntry, 0, len(triples)*2)
	for _, t := range triples {
		entries = append(entries, policy.AccessEntry{Wrapper: t.Primary}, policy.AccessEntry{Wrapper: t.AffectedSibling})
		t.ToDiscard.DecUse()
	}
	l.UpdateAccessMetadata(entries)
}

// Flush drains the pending batch, then walks from the tail calling
// writebackAndDiscardLocked on every resident object.
func (l *LRU) Flush(ctx context.Context, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.drainPendingLocked()
	for idx := l.tail; idx != -1; {
		prev := l.nodes[idx].prev
		if err := l.writebackAndDiscardLocked(ctx, idx); err != nil {
			return err
		}
		idx = prev
	}
	return nil
}

// drainPendingLocked processes the pending batch in reverse, de-duplicated via a
// transient seen set, so the final head-to-tail order reflects root-first descent order
// (spec.md §4.6.1). Must be called with l.mu held.
func (l *LRU) drainPendingLocked() {
	if len(l.pending) == 0 {
		return
	}
	seen := make(map[uid.UID]bool, len(l.pending))
	for i := len(l.pending) - 1; i >= 0; i-- {
		w := l.pending[i].Wrapper
		id := w.UID()
		if seen[id] {
			continue
		}
		seen[id] = true
		if idx, ok := l.byUID[id]; ok {
			l.moveToHead(idx)
		}
	}
	l.pending = l.pending[:0]
}

// evictIfOverCapacity runs a single eviction pass from the tail until residency is back
// at or below capacity, or the tail is stuck on in-use/undeferrable objects (spec.md
// §4.6.1). Must be called with l.mu held.
func (l *LRU) evictIfOverCapacity(ctx context.Context) {
	for len(l.byUID) > l.capacity {
		idx := l.tail
		if idx == -1 {
			return
		}
		if l.nodes[idx].w.InUse() {
			// A strictly in-use tail can't be skipped past without another
			// victim to try; since it's also the least-recently-used entry,
			// every other resident is at least as hot, so give up this pass.
			return
		}
		if l.nodes[idx].w.HaveDependentsInCache() {
			return
		}
		if err := l.writebackAndDiscardLocked(ctx, idx); err != nil {
			cmn.Log.Warningf("lru: eviction writeback failed, leaving resident: %v", err)
			return
		}
	}
}

func (l *LRU) writebackAndDiscardLocked(ctx context.Context, idx int) error {
	n := &l.nodes[idx]
	w := n.w

	w.Lock()
	defer w.Unlock()

	if w.IsMarkDelete() {
		if w.UID().IsPersisted() {
			if err := l.backend.Remove(ctx, w.UID()); err != nil {
				return err
			}
		}
	} else if w.IsDirty() {
		w.BeginWriteback()
		newID, err := l.backend.AddObject(ctx, w)
		w.EndWriteback()
		if err != nil {
			return err
		}
		w.SetUIDUpdated(newID)
		w.ClearDirty()
	}

	l.unlink(idx)
	delete(l.byUID, n.id)
	n.live = false
	l.free = append(l.free, idx)
	return nil
}

func (l *LRU) Remove(ctx context.Context, w *wrapper.Wrapper) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byUID[w.UID()]
	if !ok {
		return cmn.WrapNotFound("lru: remove of non-resident uid %s", w.UID())
	}
	if w.UID().IsPersisted() {
		if err := l.backend.Remove(ctx, w.UID()); err != nil {
			return err
		}
	}
	l.unlink(idx)
	delete(l.byUID, w.UID())
	l.nodes[idx].live = false
	l.free = append(l.free, idx)
	return nil
}

func (l *LRU) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byUID)
}

var _ policy.Policy = (*LRU)(nil)
