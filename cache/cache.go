// Package cache implements component I, the tree-facing façade of spec.md §6: the only
// surface the B+-tree calls. It owns one replacement policy, the backend(s) behind it,
// and an optional background flusher, and translates the façade's seven operations
// directly onto the policy contract those packages already implement.
//
// Grounded on spec.md §6 directly for the operation set; the construction/wiring style
// (a thin façade assembling an already-built policy, backend, and background worker,
// none of which the façade itself implements) follows how aistore's higher layers wire
// lru+fs+memsys together, generalized since no single teacher file performs exactly this
// wiring (aistore does it inside cluster.Target, out of scope here).
package cache

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/config"
	"github.com/coralstore/bpcache/flusher"
	"github.com/coralstore/bpcache/policy"
	"github.com/coralstore/bpcache/policy/a2q"
	"github.com/coralstore/bpcache/policy/clock"
	"github.com/coralstore/bpcache/policy/lru"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// Stats is a point-in-time snapshot of the cache's running counters, supplemented from
// original_source/optimized/libcache/CacheStatsProvider.hpp per SPEC_FULL.md §12 item 1.
// No external metrics exporter is wired; this is a plain struct returned to the caller.
type Stats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	AllocExhausted int64
	Resident       int
}

// Cache is the tree-facing façade. All of its exported methods are safe for concurrent
// use to the extent the underlying Policy is (spec.md §5's concurrent build profile);
// Cache itself adds no additional locking beyond what Policy already provides.
type Cache struct {
	policy  policy.Policy
	backend policy.Backend
	flush   *flusher.Flusher

	hits, misses, evictions, exhausted atomic.Int64
}

// New constructs a Cache from cfg, selecting a replacement policy by cfg.Policy and
// starting a background flusher at cfg.FlushInterval(). Callers own backend
// construction (NewVolatile/NewFile/NewPMem/bistorage.New) since backend wiring depends
// on filesystem paths and deserializers this package has no opinion about.
func New(cfg config.Cache, backend policy.Backend) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var p policy.Policy
	switch cfg.Policy {
	case "lru":
		p = lru.New(cfg.Capacity, backend, true)
	case "clock":
		p = clock.New(cfg.Capacity, backend)
	case "a2q":
		p = a2q.New(cfg.Capacity, cfg.PFCapacity, backend)
	default:
		return nil, fmt.Errorf("cache: unknown policy %q", cfg.Policy)
	}

	if err := p.Init(); err != nil {
		return nil, err
	}

	c := &Cache{policy: p, backend: backend}
	c.flush = flusher.New(p, cfg.FlushInterval(), cfg.MaxFlushPerSecond)
	c.flush.Start(context.Background())
	return c, nil
}

// GetObject is the tree-facing get_object(degree, uid) → wrapper_handle.
func (c *Cache) GetObject(ctx context.Context, degree int, id uid.UID) (*wrapper.Wrapper, error) {
	w, err := c.policy.GetObject(ctx, degree, id)
	if err != nil {
		c.misses.Inc()
		return nil, err
	}
	c.hits.Inc()
	return w, nil
}

// GetCoreObject is the in-place variant get_core_object(degree, uid, &mut wrapper_handle):
// it fetches into a caller-owned wrapper by copying the resident wrapper's fields rather
// than allocating a fresh one, for callers that want to reuse a wrapper_handle across
// repeated lookups (spec.md §6).
func (c *Cache) GetCoreObject(ctx context.Context, degree int, id uid.UID, into *wrapper.Wrapper) error {
	w, err := c.GetObject(ctx, degree, id)
	if err != nil {
		return err
	}
	w.Lock()
	into.SetUID(w.UID())
	into.SetCore(w.Core())
	into.SetCost(w.Cost())
	w.Unlock()
	return nil
}

// CreateObjectOfType is create_object_of_type<T>(args…) → (uid, wrapper_handle).
func (c *Cache) CreateObjectOfType(objectType uint16, core wrapper.CoreObject) (uid.UID, *wrapper.Wrapper) {
	id, w := c.policy.CreateObjectOfType(objectType, core)
	if w == nil {
		c.exhausted.Inc()
	}
	return id, w
}

// UpdateObjectsAccessMetadata posts the flat root-to-leaf path overload of
// update_objects_access_metadata(depth, path) (spec.md §4.6).
func (c *Cache) UpdateObjectsAccessMetadata(entries []policy.AccessEntry) {
	c.policy.UpdateAccessMetadata(entries)
}

// UpdateObjectsAccessMetadataPairs posts the sibling/affected-pair overload.
func (c *Cache) UpdateObjectsAccessMetadataPairs(pairs []policy.AccessPair) {
	c.policy.UpdateAccessMetadataPairs(pairs)
}

// UpdateObjectsAccessMetadataDeleteTriples posts the delete-triple overload issued after
// a merge.
func (c *Cache) UpdateObjectsAccessMetadataDeleteTriples(triples []policy.DeleteTriple) {
	c.policy.UpdateAccessMetadataDeleteTriples(triples)
}

// Remove is remove(wrapper_handle).
func (c *Cache) Remove(ctx context.Context, w *wrapper.Wrapper) error {
	if err := c.policy.Remove(ctx, w); err != nil {
		return err
	}
	c.evictions.Inc()
	return nil
}

// Flush is flush(stop_flusher?). When stopFlusher is true the background flusher
// goroutine is joined before returning, per spec.md §6; New would need to be called
// again to resume background flushing afterward (spec.md §5: "flush() joins this thread
// for a clean shutdown then respawns it (or leaves it stopped at teardown)" — this
// façade leaves it stopped, the simpler of the two documented choices, since nothing in
// SPEC_FULL.md's operation set calls for an automatic respawn).
func (c *Cache) Flush(ctx context.Context, stopFlusher bool) error {
	if stopFlusher {
		return c.flush.Stop(ctx)
	}
	return c.policy.Flush(ctx, false)
}

// GetObjectsCountInCache is get_objects_count_in_cache() → usize.
func (c *Cache) GetObjectsCountInCache() int {
	return c.policy.Count()
}

// Stats returns a snapshot of the façade's running counters (SPEC_FULL.md §12 item 1).
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
		AllocExhausted: c.exhausted.Load(),
		Resident:       c.policy.Count(),
	}
}
