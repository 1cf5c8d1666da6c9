// Package policy defines the shared replacement-policy contract of spec.md §4.6. The
// concrete policies — policy/lru, policy/clock, policy/a2q — each implement Policy over
// their own resident structure while sharing this package's access-metadata batch types
// and the dependent-safety helper every eviction loop must consult (spec.md §4.7).
package policy

import (
	"context"

	"github.com/coralstore/bpcache/storage"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// AccessEntry is one posted touch from the tree's root-to-leaf path, the flat-list
// overload of update_objects_access_metadata (spec.md §4.6). Depth is measured from the
// leaf (0 = leaf) so CLOCK's weight assignment (depth_remaining + optional cost term) and
// LRU's "root-first" ordering can both be derived from the same posted batch.
type AccessEntry struct {
	Wrapper *wrapper.Wrapper
	Depth   int
}

// AccessPair is the sibling/affected-pair overload.
type AccessPair struct {
	Primary, Affected *wrapper.Wrapper
}

// DeleteTriple is the primary/affected-sibling/to-discard overload, posted after a merge.
type DeleteTriple struct {
	Primary, AffectedSibling, ToDiscard *wrapper.Wrapper
}

// Policy is the common public contract every replacement policy exports (spec.md §4.6).
// capacity is measured in objects; a footprint-tracking build would measure bytes
// instead, but none of this module's policies opt into that build flag (byte-footprint
// tracking is out of scope, same as spec.md's footprint non-goal).
type Policy interface {
	Init() error

	// GetObject returns the resident wrapper for id, fetching it from backend on a
	// miss and inserting it as resident.
	GetObject(ctx context.Context, degree int, id uid.UID) (*wrapper.Wrapper, error)

	// CreateObjectOfType allocates a fresh volatile UID for core and inserts it as
	// resident, as if newly admitted by the tree.
	CreateObjectOfType(objectType uint16, core wrapper.CoreObject) (uid.UID, *wrapper.Wrapper)

	// UpdateAccessMetadata consumes the flat-list overload of a posted root-to-leaf
	// path. Every wrapper in entries must have a positive in-use counter on entry;
	// the policy decrements it as part of consumption.
	UpdateAccessMetadata(entries []AccessEntry)

	// UpdateAccessMetadataPairs consumes the sibling/affected-pair overload.
	UpdateAccessMetadataPairs(pairs []AccessPair)

	// UpdateAccessMetadataDeleteTriples consumes the delete-triple overload posted
	// after a merge.
	UpdateAccessMetadataDeleteTriples(triples []DeleteTriple)

	// Remove explicitly frees w (e.g. after a merge), clearing its persisted range
	// via the backend when it was persisted.
	Remove(ctx context.Context, w *wrapper.Wrapper) error

	// Flush drains every resident object to backend. When stopFlusher is true, any
	// background flusher goroutine is joined before returning.
	Flush(ctx context.Context, stopFlusher bool) error

	Count() int
}

// Backend is the subset of storage.Backend a policy needs; named separately so policy
// packages don't import storage/bistorage directly.
type Backend = storage.Backend
