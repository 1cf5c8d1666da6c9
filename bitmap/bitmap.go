// Package bitmap implements the SIMD bitmap allocator of spec.md §4.2: a single bit per
// fixed-size block of an arena, searched in batches of four 64-bit words the way the
// original's vectorized scan processes a cache line's worth of bitmap at a time.
//
// Allocation always rounds a request up to a power-of-two run length in blocks (spec.md
// §4.2, "power-of-two run search") and is capped at 63 blocks per run — see
// MaxBlocksPerRun. A search tries, in order: the bump cursor (the tail of the arena last
// extended into), the slab-bucket vector of recently freed runs of the same size class,
// and finally a full scan from the lowest address known to contain a freed run. This
// mirrors memsys.MMSA's get-from-ring-then-grow shape, adapted from "N fixed buffer
// sizes" to "one bitmap plus power-of-two run search."
package bitmap

import (
	"math/bits"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/coralstore/bpcache/cmn"
)

// MaxBlocksPerRun bounds a single allocation to fit within the span of two adjacent
// 64-bit words, so the scan never needs to consider more than one word boundary per run.
const MaxBlocksPerRun = 63

// maxBucketClasses is the slab-bucket vector's size-class cap (spec.md §4.2).
const maxBucketClasses = 10

// maxBucketOffsets is how many recently freed offsets a single size class remembers.
const maxBucketOffsets = 50

type bucket struct {
	blocks  int64
	offsets []int64 // ascending insertion order, oldest first
}

// Allocator manages a fixed-size arena of blockSize-byte blocks via a linear bitmap.
type Allocator struct {
	mu sync.Mutex

	blockSize   int64
	totalBlocks int64
	words       []uint64

	bumpWord int64 // word index the bump-cursor search resumes from
	minWord  int64 // lowest word index known to contain a freed run

	buckets []*bucket

	simd bool // true if the CPU reports AVX2; recorded only, the scan code is the same either way
}

// New creates an allocator over an arena of totalBytes bytes, divided into blockSize-byte
// blocks. totalBytes is rounded up to a whole number of blocks.
func New(totalBytes, blockSize int64) *Allocator {
	cmn.Assert(blockSize > 0)
	cmn.Assert(totalBytes > 0)
	totalBlocks := cmn.DivCeil(totalBytes, blockSize)
	numWords := cmn.DivCeil(totalBlocks, 64)
	return &Allocator{
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		words:       make([]uint64, numWords),
		simd:        cpuid.CPU.Supports(cpuid.AVX2),
	}
}

// SIMDEnabled reports whether the CPU supported AVX2 at construction. It exists for
// observability only: there is a single scan implementation, which walks the same
// four-word batches whatever this reports (spec.md §9, "AVX2 path is an optimization,
// not a contract").
func (a *Allocator) SIMDEnabled() bool { return a.simd }

// TotalBlocks returns the arena's capacity in blocks.
func (a *Allocator) TotalBlocks() int64 { return a.totalBlocks }

func blocksForBytes(n, blockSize int64) int64 {
	blocks := cmn.DivCeil(n, blockSize)
	return nextPow2(blocks)
}

func nextPow2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return 1 << uint(bits.Len64(uint64(n-1)))
}

// Allocate reserves a power-of-two run of blocks large enough to hold byteLen bytes and
// returns its byte offset into the arena. It reports false if the arena has no room.
func (a *Allocator) Allocate(byteLen int64) (offset int64, ok bool) {
	cmn.Assert(byteLen > 0)
	required := blocksForBytes(byteLen, a.blockSize)
	cmn.Assertf(required <= MaxBlocksPerRun, "bitmap: requested run of %d blocks exceeds MaxBlocksPerRun", required)

	a.mu.Lock()
	defer a.mu.Unlock()

	if blk, found := a.scan(a.bumpWord, required); found {
		a.commit(blk, required)
		a.bumpWord = (blk + required) / 64
		return blk * a.blockSize, true
	}
	if blk, found := a.tryBucket(required); found {
		a.commit(blk, required)
		return blk * a.blockSize, true
	}
	if blk, found := a.scan(a.minWord, required); found {
		a.commit(blk, required)
		return blk * a.blockSize, true
	}
	return 0, false
}

// Free releases the run starting at offset that was allocated for byteLen bytes. offset
// and byteLen must match a prior successful Allocate call exactly.
func (a *Allocator) Free(offset, byteLen int64) {
	cmn.Assert(offset >= 0 && byteLen > 0)
	required := blocksForBytes(byteLen, a.blockSize)
	blk := offset / a.blockSize

	a.mu.Lock()
	defer a.mu.Unlock()

	a.clear(blk, required)
	a.addBucket(required, blk)
	if w := blk / 64; a.minWord > w {
		a.minWord = w
	}
}

// Popcount returns the number of allocated blocks. Used by tests to cross-check free-run
// bookkeeping against raw bitmap state.
func (a *Allocator) Popcount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, w := range a.words {
		n += int64(bits.OnesCount64(w))
	}
	return n
}

func (a *Allocator) commit(blk, required int64) {
	mask := runMask(int(blk%64), required)
	wi := blk / 64
	if blk%64+required <= 64 {
		a.words[wi] |= mask
		return
	}
	// run spans into the next word: low part sits at the high bits of wi, the rest at
	// the low bits of wi+1.
	p := int(blk % 64)
	a.words[wi] |= runMask(p, 64-int64(p))
	spilled := required - (64 - int64(p))
	a.words[wi+1] |= (uint64(1)<<uint(spilled) - 1)
}

func (a *Allocator) clear(blk, required int64) {
	wi := blk / 64
	p := int(blk % 64)
	if int64(p)+required <= 64 {
		a.words[wi] &^= runMask(p, required)
		return
	}
	a.words[wi] &^= runMask(p, 64-int64(p))
	spilled := required - (64 - int64(p))
	a.words[wi+1] &^= (uint64(1)<<uint(spilled) - 1)
}

func (a *Allocator) tryBucket(required int64) (int64, bool) {
	for _, b := range a.buckets {
		if b.blocks != required || len(b.offsets) == 0 {
			continue
		}
		blk := b.offsets[0]
		b.offsets = b.offsets[1:]
		return blk, true
	}
	return 0, false
}

func (a *Allocator) addBucket(required, blk int64) {
	for _, b := range a.buckets {
		if b.blocks == required {
			if len(b.offsets) >= maxBucketOffsets {
				b.offsets = b.offsets[1:]
			}
			b.offsets = append(b.offsets, blk)
			return
		}
	}
	if len(a.buckets) >= maxBucketClasses {
		// Evict the least-recently-touched size class to make room; losing a stale
		// hint only costs a slower full scan, never correctness.
		a.buckets = a.buckets[1:]
	}
	a.buckets = append(a.buckets, &bucket{blocks: required, offsets: []int64{blk}})
}

// scan searches a.words, starting at word fromWord, for a free run of required blocks.
// It processes words in batches of four: a batch of all-free words short-circuits to its
// base offset, a batch of all-allocated words is skipped outright, and any other batch is
// searched word by word via scanWord.
func (a *Allocator) scan(fromWord, required int64) (int64, bool) {
	numWords := int64(len(a.words))
	base := fromWord - fromWord%4
	if base < 0 {
		base = 0
	}
	for b := base; b < numWords; b += 4 {
		end := b + 4
		if end > numWords {
			end = numWords
		}
		allZero, allOnes := true, true
		for i := b; i < end; i++ {
			if a.words[i] != 0 {
				allZero = false
			}
			if a.words[i] != ^uint64(0) {
				allOnes = false
			}
		}
		if allZero {
			offsetBlocks := b * 64
			if offsetBlocks+required <= a.totalBlocks {
				return offsetBlocks, true
			}
			continue
		}
		if allOnes {
			continue
		}
		for i := b; i < end; i++ {
			if off, ok := a.scanWord(i, required); ok {
				return off, true
			}
		}
	}
	return 0, false
}

// scanWord looks for a free run of required blocks starting within word index idx: either
// entirely inside that word, or spanning into the low bits of the next word.
func (a *Allocator) scanWord(idx int64, required int64) (int64, bool) {
	w := a.words[idx]
	if w == ^uint64(0) {
		return 0, false
	}
	p := bits.TrailingZeros64(^w)
	if p == 64 {
		return 0, false
	}
	spanAvail := int64(64 - p)
	offsetBlocks := idx*64 + int64(p)
	if spanAvail >= required {
		mask := runMask(p, required)
		if w&mask == 0 && offsetBlocks+required <= a.totalBlocks {
			return offsetBlocks, true
		}
		return 0, false
	}
	// Spanning requires bits [p, 63] of this word to be entirely free.
	if w&runMask(p, spanAvail) != 0 {
		return 0, false
	}
	if idx+1 >= int64(len(a.words)) {
		return 0, false
	}
	needed := required - spanAvail
	next := a.words[idx+1]
	if int64(bits.TrailingZeros64(next)) >= needed && offsetBlocks+required <= a.totalBlocks {
		return offsetBlocks, true
	}
	return 0, false
}

// runMask returns a mask with `length` contiguous bits set starting at bit `start`.
// length must be strictly less than 64 (callers never request a full-word run: see
// MaxBlocksPerRun).
func runMask(start int, length int64) uint64 {
	return (uint64(1)<<uint(length) - 1) << uint(start)
}
