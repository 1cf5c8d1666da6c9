package flusher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coralstore/bpcache/flusher"
	"github.com/coralstore/bpcache/policy"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// fakePolicy counts Flush calls and records whether the stopFlusher flag was ever set,
// standing in for a real replacement policy's Flush method.
type fakePolicy struct {
	mu          sync.Mutex
	flushes     int
	sawStopTrue bool
}

func (p *fakePolicy) Init() error { return nil }
func (p *fakePolicy) GetObject(context.Context, int, uid.UID) (*wrapper.Wrapper, error) {
	return nil, nil
}
func (p *fakePolicy) CreateObjectOfType(uint16, wrapper.CoreObject) (uid.UID, *wrapper.Wrapper) {
	return uid.Zero, nil
}
func (p *fakePolicy) UpdateAccessMetadata([]policy.AccessEntry)                   {}
func (p *fakePolicy) UpdateAccessMetadataPairs([]policy.AccessPair)               {}
func (p *fakePolicy) UpdateAccessMetadataDeleteTriples([]policy.DeleteTriple)     {}
func (p *fakePolicy) Remove(context.Context, *wrapper.Wrapper) error              { return nil }
func (p *fakePolicy) Count() int                                                  { return 0 }
func (p *fakePolicy) Flush(_ context.Context, stopFlusher bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	if stopFlusher {
		p.sawStopTrue = true
	}
	return nil
}
func (p *fakePolicy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

var _ policy.Policy = (*fakePolicy)(nil)

func TestStartTicksFlushRepeatedly(t *testing.T) {
	p := &fakePolicy{}
	f := flusher.New(p, 5*time.Millisecond, 0)
	f.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for p.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if p.count() < 3 {
		t.Fatalf("expected at least 3 ticks before stop, got %d", p.count())
	}
	if !p.sawStopTrue {
		t.Fatal("expected Stop to issue a final Flush(ctx, true)")
	}
}

func TestStopWithoutStartStillDrains(t *testing.T) {
	p := &fakePolicy{}
	f := flusher.New(p, time.Second, 0)

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.count() != 1 || !p.sawStopTrue {
		t.Fatalf("expected exactly one final drain with stopFlusher=true, got flushes=%d sawStopTrue=%v", p.count(), p.sawStopTrue)
	}
}

func TestStopIsIdempotentSafeAfterSingleStart(t *testing.T) {
	p := &fakePolicy{}
	f := flusher.New(p, 5*time.Millisecond, 0)
	f.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	firstCount := p.count()

	// A second Stop call on an already-stopped Flusher should just re-issue the final
	// drain rather than panicking on a double-close of stopCh.
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if p.count() != firstCount+1 {
		t.Fatalf("expected exactly one more flush from the second Stop, got %d -> %d", firstCount, p.count())
	}
}
