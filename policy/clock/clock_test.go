package clock_test

import (
	"context"
	"sync"
	"testing"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/policy"
	"github.com/coralstore/bpcache/policy/clock"
	"github.com/coralstore/bpcache/storage"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

type fakeCore struct{ payload []byte }

func (f *fakeCore) Serialize(buf []byte, blockSize int) ([]byte, bool, error) {
	return append(buf[:0], f.payload...), false, nil
}

// fakeBackend is a minimal persisted-medium backend, used instead of storage.Volatile
// whenever a test needs to tell an evicted entry's stale, policy-arena UID apart from the
// UID a writeback assigns it: both storage.Volatile and a clock array mint medium==Volatile
// UIDs from their own independent slot counters, so the two can coincidentally collide at
// small capacities. A persisted-medium backend can never alias a Volatile-medium UID.
type fakeBackend struct {
	mu      sync.Mutex
	nextOff uint64
	objs    map[uint64][]byte
}

func newFakeBackend() *fakeBackend { return &fakeBackend{objs: make(map[uint64][]byte)} }

func (b *fakeBackend) Init() error { return nil }

func (b *fakeBackend) AddObject(_ context.Context, w *wrapper.Wrapper) (uid.UID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := b.nextOff
	b.nextOff++
	data, _, err := w.Core().Serialize(nil, 0)
	if err != nil {
		return uid.Zero, err
	}
	b.objs[off] = data
	return uid.FromPersistentOffset(w.UID().ObjectType(), uid.File, off, uint32(len(data))), nil
}

func (b *fakeBackend) GetObject(_ context.Context, _ int, id uid.UID, w *wrapper.Wrapper) error {
	b.mu.Lock()
	data, ok := b.objs[id.PersistentOffset()]
	b.mu.Unlock()
	if !ok {
		return cmn.WrapMiss("fakeBackend: offset %d not found", id.PersistentOffset())
	}
	w.SetCore(&fakeCore{payload: data})
	w.SetUID(id)
	return nil
}

func (b *fakeBackend) Remove(_ context.Context, id uid.UID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objs, id.PersistentOffset())
	return nil
}

func (b *fakeBackend) AccessCost(uint16) int64 { return 1 }

func TestCreateThenGetHitsResident(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(4, backend)
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	id, w := p.CreateObjectOfType(1, &fakeCore{payload: []byte("a")})
	if p.Count() != 1 {
		t.Fatalf("expected 1 resident, got %d", p.Count())
	}

	got, err := p.GetObject(context.Background(), 0, id)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got != w {
		t.Fatal("expected GetObject to return the same resident wrapper instance")
	}
}

// TestGetObjectDelegatesToBackendOnPolicyMiss exercises spec.md §4.6 and the round-trip
// invariant of §5: a policy-resident miss must still consult the backend even when the
// missed UID's medium is Volatile, since the configured backend may itself be
// storage.Volatile.
func TestGetObjectDelegatesToBackendOnPolicyMiss(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	seeded := wrapper.New(uid.FromVolatileSlot(7, 0), &fakeCore{payload: []byte("seed")})
	backendID, err := backend.AddObject(context.Background(), seeded)
	if err != nil {
		t.Fatalf("seed AddObject: %v", err)
	}

	p := clock.New(4, backend)
	p.Init()

	got, err := p.GetObject(context.Background(), 0, backendID)
	if err != nil {
		t.Fatalf("expected GetObject to delegate to the backend and hit: %v", err)
	}
	if string(got.Core().(*fakeCore).payload) != "seed" {
		t.Fatalf("expected the backend-resident payload, got %v", got.Core())
	}
}

func TestGetObjectRejectsZeroUID(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(4, backend)
	p.Init()

	if _, err := p.GetObject(context.Background(), 0, uid.Zero); err == nil {
		t.Fatal("expected uid.Zero to be rejected without ever reaching the backend")
	}
}

// TestEvictForSlotSweepsMultipleRevolutionsWhenAllWeightsPositive reproduces spec.md §8's
// S2 scenario: every resident slot ([a,b,c,d]) carries weight 1 simultaneously. A single
// revolution only decrements every slot to weight 0 without freeing any of them; admission
// must not be dropped in that case (that would be silent data loss) — evictForSlot has to
// keep sweeping into a second revolution, where the hand now finds every slot at weight 0
// and reclaims the first one it revisits.
func TestEvictForSlotSweepsMultipleRevolutionsWhenAllWeightsPositive(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(4, backend)
	p.Init()

	ids := make([]uid.UID, 4)
	ws := make([]*wrapper.Wrapper, 4)
	for i := range ids {
		id, w := p.CreateObjectOfType(1, &fakeCore{payload: []byte{byte(i)}})
		ids[i] = id
		ws[i] = w
	}
	// Every slot starts this call with weight 1 (S2's simultaneous-positive-weight shape).
	entries := make([]policy.AccessEntry, len(ws))
	for i, w := range ws {
		w.IncUse()
		entries[i] = policy.AccessEntry{Wrapper: w, Depth: 1}
	}
	p.UpdateAccessMetadata(entries) // also balances the IncUse() above via its own DecUse()

	id5, w5 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("new")})
	if w5 == nil {
		t.Fatal("expected admission to succeed via a second revolution, not be silently dropped")
	}
	if p.Count() != 4 {
		t.Fatalf("expected residency to stay capped at 4, got %d", p.Count())
	}
	if got, err := p.GetObject(context.Background(), 0, id5); err != nil || got != w5 {
		t.Fatalf("expected the new admission to be resident, got %v, err %v", got, err)
	}
}

// TestEvictsOnlyZeroWeightSlotAfterWeightDrains exercises the sweep rule's weight-decrement step: a single
// free slot with a positive weight must be swept past (decrementing its weight) rather
// than reclaimed immediately, so admission only succeeds once the hand has walked the
// array enough times to drain that weight to zero.
func TestEvictsOnlyZeroWeightSlotAfterWeightDrains(t *testing.T) {
	backend := newFakeBackend()
	p := clock.New(1, backend)
	p.Init()

	id1, w1 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("1")})
	// Post a nonzero weight on the only resident slot, simulating a recent access at
	// depth 2 in the tree's root-to-leaf path.
	w1.IncUse()
	p.UpdateAccessMetadata([]policy.AccessEntry{{Wrapper: w1, Depth: 2}})

	// With a single-slot array, each CreateObjectOfType call runs exactly one sweep
	// over that slot. A positive weight is decremented and swept past rather than
	// reclaimed, so weight 2 takes two admissions to drain to zero, and a third to
	// actually reclaim the now-zero-weight, dirty, unguarded slot.
	for i := 0; i < 2; i++ {
		p.CreateObjectOfType(1, &fakeCore{payload: []byte("filler")})
		if _, err := p.GetObject(context.Background(), 0, id1); err != nil {
			t.Fatalf("expected w1 still resident after weight-decrementing sweep %d: %v", i, err)
		}
	}

	// The filler that takes the reclaimed slot is minted the same slot-0 UID as id1, so
	// eviction shows as id1 no longer resolving to w1.
	p.CreateObjectOfType(1, &fakeCore{payload: []byte("filler")})
	if got, err := p.GetObject(context.Background(), 0, id1); err == nil && got == w1 {
		t.Fatal("expected w1 to have been evicted once its weight drained to zero")
	}
}

func TestInUseWrapperIsSweptPastNotEvicted(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(1, backend)
	p.Init()

	id1, w1 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("1")})
	w1.IncUse() // never decremented: simulates a handle still held by the tree

	// The sole slot is occupied and in-use, so the single-slot array has no room; the
	// new admission must be dropped rather than evicting a held wrapper.
	id2, w2 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("2")})

	if w2 != nil {
		t.Fatal("expected admission to be dropped when the only slot is in-use")
	}
	if got, err := p.GetObject(context.Background(), 0, id1); err != nil || got != w1 {
		t.Fatalf("expected the in-use wrapper to remain resident, got %v, err %v", got, err)
	}
	_ = id2
}

func TestDependentWrapperIsDeferredNotEvicted(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(1, backend)
	p.Init()

	depID, _ := p.CreateObjectOfType(1, &fakeCore{payload: []byte("parent")})
	got, _ := p.GetObject(context.Background(), 0, depID)
	got.AddDependent(depID) // a dependent still resident in cache, per spec.md §4.7

	// The slot's weight is already zero (never touched by UpdateAccessMetadata), so the
	// sweep reaches the "weight == 0, not in use" branch immediately and must defer on
	// the dependent check instead of reclaiming.
	id2, w2 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("child")})

	if w2 != nil {
		t.Fatal("expected admission to be dropped: the only slot has a live dependent")
	}
	if _, err := p.GetObject(context.Background(), 0, depID); err != nil {
		t.Fatalf("expected the dependent-guarded wrapper to remain resident: %v", err)
	}
	_ = id2
}

func TestDirtyWrapperIsWrittenBackBeforeReclaim(t *testing.T) {
	backend := newFakeBackend()
	p := clock.New(1, backend)
	p.Init()

	id1, w1 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("dirty")}) // New() marks dirty

	// Weight is zero and the slot isn't in use or dependent-guarded, so the very next
	// admission reclaims it, writing the dirty payload back to the backend first.
	id2, w2 := p.CreateObjectOfType(1, &fakeCore{payload: []byte("2")})
	if w2 == nil {
		t.Fatal("expected the dirty-but-unguarded slot to be reclaimed")
	}

	// w2 reuses slot 0, so id2 is bit-identical to id1: the original UID now resolves to
	// w2, never to w1.
	if got, err := p.GetObject(context.Background(), 0, id1); err == nil && got == w1 {
		t.Fatal("expected the original wrapper to no longer be resident")
	}
	// Checked before the writeback UID is fetched below: that fetch needs the only slot
	// and reclaims w2's.
	if got, err := p.GetObject(context.Background(), 0, id2); err != nil || got != w2 {
		t.Fatalf("expected the new wrapper to be resident, got %v, err %v", got, err)
	}
	// spec.md §5's round-trip invariant: the writeback published a fresh UID into
	// uid_updated, and a reader chasing it must see valid bytes.
	newID, ok := w1.UIDUpdated()
	if !ok {
		t.Fatal("expected the reclaimed wrapper to carry a writeback UID")
	}
	if got, err := p.GetObject(context.Background(), 0, newID); err != nil || string(got.Core().(*fakeCore).payload) != "dirty" {
		t.Fatalf("expected the writeback UID to resolve via the backend, got %v, err %v", got, err)
	}
}

func TestRemoveDropsResidentEntry(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(4, backend)
	p.Init()

	_, w := p.CreateObjectOfType(1, &fakeCore{payload: []byte("1")})
	if err := p.Remove(context.Background(), w); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if p.Count() != 0 {
		t.Fatalf("expected 0 resident after Remove, got %d", p.Count())
	}
}

func TestFlushWritesBackDirtyResidentsAndClearsThem(t *testing.T) {
	backend := storage.NewVolatile(16, 1)
	p := clock.New(4, backend)
	p.Init()

	p.CreateObjectOfType(1, &fakeCore{payload: []byte("1")})
	p.CreateObjectOfType(1, &fakeCore{payload: []byte("2")})

	if err := p.Flush(context.Background(), false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.Count() != 0 {
		t.Fatalf("expected Flush to clear residency, got %d", p.Count())
	}
}

var _ policy.Policy = (*clock.Clock)(nil)
var _ wrapper.CoreObject = (*fakeCore)(nil)
