// Package wrapper implements the cached object wrapper described in spec.md's Data Model
// section: the in-memory record pairing a deserialized B+-tree node with the metadata a
// replacement policy needs to decide whether and how to evict it.
//
// Per the "Pointer graphs → arena + indices" design note (spec.md §9), a Wrapper never
// points at another Wrapper directly; policies that need prev/next or queue-membership
// links embed a Wrapper in their own arena-slot type and reference siblings by index
// (see policy/lru, policy/clock, policy/a2q).
package wrapper

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/uid"
)

// CoreObject is the only bridge between the cache and the tree's serialization format
// (spec.md §9, "Serialization boundary"). The cache never interprets the bytes it
// produces or consumes.
type CoreObject interface {
	// Serialize writes this object's bytes, returning the buffer actually used (which may
	// be a freshly allocated one if buf was too small) and whether the object fit into its
	// prior persisted range in place. When inPlace is true the caller must keep the
	// wrapper's existing persisted UID instead of asking the allocator for a new range
	// (spec.md §4.3, add_object).
	Serialize(buf []byte, blockSize int) (out []byte, inPlace bool, err error)
}

// Deserializer turns persisted bytes back into a CoreObject. Supplied by the tree at
// backend construction time; the cache layer only calls it, never interprets its output.
type Deserializer func(objectType uint16, data []byte, blockSize int) (CoreObject, error)

// Wrapper is the cached object wrapper of spec.md's Data Model. The in-use counter and
// the dependents set are safe for concurrent use on their own; the remaining accessors
// read and write plain fields, so racing callers serialize them with Lock/Unlock or the
// owning policy's lock.
type Wrapper struct {
	mu sync.Mutex

	uid           uid.UID
	uidUpdated    uid.UID
	hasUIDUpdated bool

	core CoreObject

	dirty       bool
	markDelete  bool
	writingBack bool // true only during the in-flight window between Serialize and the
	// backend's add_object call completing; see DESIGN.md Open Question #2.

	inUse atomic.Int32

	objectCost int64 // last-observed backend read cost (§4.5), zero when cost-weighting is off

	depMu      sync.Mutex
	dependents map[uid.UID]struct{}
}

// New constructs a resident wrapper for a freshly created object (tree-facing
// create_object_of_type, spec.md §4.6).
func New(id uid.UID, core CoreObject) *Wrapper {
	return &Wrapper{uid: id, core: core, dirty: true}
}

// Lock/Unlock expose the wrapper's own mutex for the "per-object critical section"
// spec.md's Data Model describes. Policies hold this for the full
// evaluate-then-writeback-then-discard eviction sequence, never try-lock-and-proceed
// unlocked (DESIGN.md Open Question #3).
func (w *Wrapper) Lock()   { w.mu.Lock() }
func (w *Wrapper) Unlock() { w.mu.Unlock() }

// TryLock reports whether the wrapper's mutex was acquired without blocking. Callers that
// fail to acquire must not touch wrapper state and must treat the wrapper as busy.
func (w *Wrapper) TryLock() bool { return w.mu.TryLock() }

// UID returns the wrapper's current identifier. Caller must hold the lock if racing with
// a concurrent writeback (UID changes under SetUID during eviction).
func (w *Wrapper) UID() uid.UID { return w.uid }

func (w *Wrapper) SetUID(id uid.UID) { w.uid = id }

// UIDUpdated returns the UID assigned on the most recent writeback, if any, letting a
// reader chase a location move without taking the policy-wide lock (spec.md Data Model,
// "uid_updated").
func (w *Wrapper) UIDUpdated() (uid.UID, bool) { return w.uidUpdated, w.hasUIDUpdated }

func (w *Wrapper) SetUIDUpdated(id uid.UID) {
	w.uidUpdated = id
	w.hasUIDUpdated = true
}

func (w *Wrapper) ClearUIDUpdated() { w.hasUIDUpdated = false }

// Core returns the deserialized object, or nil if none has been set. Eviction and
// writeback leave the core in place.
func (w *Wrapper) Core() CoreObject { return w.core }

func (w *Wrapper) SetCore(c CoreObject) { w.core = c }

func (w *Wrapper) IsDirty() bool  { return w.dirty }
func (w *Wrapper) SetDirty()      { w.dirty = true }
func (w *Wrapper) ClearDirty()    { w.dirty = false }

func (w *Wrapper) IsMarkDelete() bool { return w.markDelete }
func (w *Wrapper) SetMarkDelete()     { w.markDelete = true }

// BeginWriteback records that core is about to be serialized and handed to a backend;
// a nil core observed while this is true is the expected transient state spec.md §9
// describes, not a bug.
func (w *Wrapper) BeginWriteback() { w.writingBack = true }
func (w *Wrapper) EndWriteback()   { w.writingBack = false }
func (w *Wrapper) IsWritingBack() bool { return w.writingBack }

// AssertCoreInvariant panics if core is nil outside the writeback window, per spec.md §9's
// resolution of the "null-core eviction" open question.
func (w *Wrapper) AssertCoreInvariant() {
	cmn.Assertf(w.core != nil || w.writingBack, "wrapper %s: nil core outside writeback window", w.uid)
}

func (w *Wrapper) Cost() int64     { return w.objectCost }
func (w *Wrapper) SetCost(c int64) { w.objectCost = c }

// IncUse/DecUse implement the in_use_counter of spec.md's Data Model. The tree increments
// on handoff and the policy decrements as part of consuming an access-metadata batch
// (spec.md §4.6, update_objects_access_metadata).
func (w *Wrapper) IncUse() { w.inUse.Inc() }

// DecUse decrements the in-use counter. It panics if the counter would go negative: a
// caller decrementing more than it incremented is a bug, not a recoverable condition.
func (w *Wrapper) DecUse() {
	if v := w.inUse.Dec(); v < 0 {
		panic("wrapper: in-use counter went negative")
	}
}

func (w *Wrapper) InUse() bool { return w.inUse.Load() > 0 }

// AddDependent/RemoveDependent/HaveDependentsInCache implement the dependent-safety
// invariant of spec.md §4.7. The tree calls AddDependent when an interior node acquires a
// volatile-pointer reference to this wrapper's object, and RemoveDependent once that
// reference is itself persisted or dropped.
func (w *Wrapper) AddDependent(dependent uid.UID) {
	w.depMu.Lock()
	if w.dependents == nil {
		w.dependents = make(map[uid.UID]struct{}, 1)
	}
	w.dependents[dependent] = struct{}{}
	w.depMu.Unlock()
}

func (w *Wrapper) RemoveDependent(dependent uid.UID) {
	w.depMu.Lock()
	delete(w.dependents, dependent)
	w.depMu.Unlock()
}

func (w *Wrapper) HaveDependentsInCache() bool {
	w.depMu.Lock()
	n := len(w.dependents)
	w.depMu.Unlock()
	return n > 0
}
