// Package flusher runs component G: a background goroutine that periodically drains
// dirty resident objects to backend via the active policy's Flush, so a long-idle cache
// doesn't accumulate unbounded dirty state between tree-driven evictions.
//
// Grounded on lru.Run's repeat-loop-with-renew-channel shutdown idiom (lru/lru.go):
// a single goroutine alternates between doing work and waiting on a channel select that
// can either re-trigger the loop or tear it down. This module has no per-mountpath
// fan-out, so the parent/jogger split collapses to one goroutine coordinated through
// golang.org/x/sync/errgroup instead of a sync.WaitGroup.
package flusher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/policy"
)

// Flusher periodically calls Policy.Flush(ctx, false) on a timer until stopped. The
// writeback rate limiter is optional and off by default (rate.Inf), per SPEC_FULL.md
// §11: a pathological eviction storm shouldn't saturate backend I/O, but the common case
// pays no throttling cost at all.
type Flusher struct {
	policy   policy.Policy
	interval time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	g       *errgroup.Group
}

// New constructs a Flusher over p that wakes every interval. A non-positive maxPerSecond
// leaves writeback unthrottled (rate.Inf); a positive value bounds how many Flush ticks
// per second may actually reach the backend.
func New(p policy.Policy, interval time.Duration, maxPerSecond float64) *Flusher {
	cmn.Assert(interval > 0)
	limit := rate.Inf
	burst := 1
	if maxPerSecond > 0 {
		limit = rate.Limit(maxPerSecond)
		burst = 1
	}
	return &Flusher{
		policy:   p,
		interval: interval,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Start launches the background goroutine. Calling Start on an already-running Flusher
// is a no-op.
func (f *Flusher) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.g, ctx = errgroup.WithContext(ctx)

	stopCh := f.stopCh
	f.g.Go(func() error {
		f.run(ctx, stopCh)
		return nil
	})
}

func (f *Flusher) run(ctx context.Context, stopCh chan struct{}) {
	t := time.NewTicker(f.interval)
	defer t.Stop()

	cmn.Log.Infof("flusher: started, interval %s", f.interval)
	for {
		select {
		case <-stopCh:
			cmn.Log.Infof("flusher: stopped")
			return
		case <-ctx.Done():
			cmn.Log.Infof("flusher: context cancelled, stopping")
			return
		case <-t.C:
			if err := f.limiter.Wait(ctx); err != nil {
				// context cancelled while waiting on the limiter; loop back around to
				// pick up the stopCh/ctx.Done() case instead of issuing a flush.
				continue
			}
			if err := f.policy.Flush(ctx, false); err != nil {
				cmn.Log.Warningf("flusher: tick flush failed: %v", err)
			}
		}
	}
}

// Stop signals the background goroutine to exit, waits for it to do so, and then issues
// one final Flush(ctx, true) to drain anything dirty at the moment of shutdown and join
// any flusher the policy itself manages internally (spec.md §4.6's Flush(stopFlusher)
// parameter).
func (f *Flusher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return f.policy.Flush(ctx, true)
	}
	stopCh := f.stopCh
	g := f.g
	f.running = false
	f.mu.Unlock()

	close(stopCh)
	if err := g.Wait(); err != nil {
		return err
	}
	return f.policy.Flush(ctx, true)
}
