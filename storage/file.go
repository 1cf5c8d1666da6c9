package storage

import (
	"context"
	"os"
	"sync"

	"go.uber.org/atomic"

	"github.com/coralstore/bpcache/bitmap"
	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// inFlight tracks one outstanding write: readers that land on its offset before the
// flusher settles block on cond instead of racing the backing file.
type inFlight struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	settled bool
}

type writeReq struct {
	offset int64
	data   []byte
	done   chan error
}

// File is the file-backed storage tier (spec.md §4.3): add_object enqueues a pwrite for a
// dedicated flusher goroutine that drains the queue in FIFO order, while get_object reads
// either the in-flight buffer or, once settled, the persisted bytes — never a hole,
// per spec.md §4.3's invariant. Grounded on lru.Run's per-mountpath goroutine/stopCh
// idiom and memsys.SGL's WriteAt-style buffer handling.
type File struct {
	f         *os.File
	alloc     *bitmap.Allocator
	blockSize int64
	deser     wrapper.Deserializer
	cost      int64

	inflightMu sync.Mutex
	inflight   map[int64]*inFlight

	queue  chan writeReq
	stopCh chan struct{}
	wg     sync.WaitGroup

	hits, misses atomic.Int64
}

// NewFile opens (creating if absent) the arena file at path, sized to totalBytes, and
// starts the background flusher once Init is called.
func NewFile(path string, totalBytes, blockSize int64, deser wrapper.Deserializer, cost int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, cmn.WrapIO(err, "file backend: open %s", path)
	}
	if err := f.Truncate(totalBytes); err != nil {
		f.Close()
		return nil, cmn.WrapIO(err, "file backend: truncate %s", path)
	}
	return &File{
		f:         f,
		alloc:     bitmap.New(totalBytes, blockSize),
		blockSize: blockSize,
		deser:     deser,
		cost:      cost,
		inflight:  make(map[int64]*inFlight),
		queue:     make(chan writeReq, 256),
		stopCh:    make(chan struct{}),
	}, nil
}

func (f *File) Init() error {
	f.wg.Add(1)
	go f.flusherLoop()
	return nil
}

// Stop drains any queued writes, joins the flusher goroutine and closes the arena file.
// The policies' and the cache façade's Flush do not call it; the backend's owner does.
func (f *File) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.f.Close()
}

func (f *File) flusherLoop() {
	defer f.wg.Done()
	for {
		select {
		case req := <-f.queue:
			f.settle(req)
		case <-f.stopCh:
			for {
				select {
				case req := <-f.queue:
					f.settle(req)
				default:
					return
				}
			}
		}
	}
}

func (f *File) settle(req writeReq) {
	_, err := f.f.WriteAt(req.data, req.offset)

	f.inflightMu.Lock()
	entry := f.inflight[req.offset]
	f.inflightMu.Unlock()

	if entry != nil {
		entry.mu.Lock()
		entry.settled = true
		entry.cond.Broadcast()
		entry.mu.Unlock()

		f.inflightMu.Lock()
		delete(f.inflight, req.offset)
		f.inflightMu.Unlock()
	}
	if req.done != nil {
		req.done <- err
	}
}

func (f *File) AddObject(_ context.Context, w *wrapper.Wrapper) (uid.UID, error) {
	w.Lock()
	data, _, err := w.Core().Serialize(make([]byte, 0, f.blockSize), int(f.blockSize))
	objType := w.UID().ObjectType()
	w.Unlock()
	if err != nil {
		return uid.Zero, err
	}

	offset, ok := f.alloc.Allocate(int64(len(data)))
	if !ok {
		return uid.Zero, cmn.WrapOutOfStorage("file backend: no room for %d bytes", len(data))
	}

	entry := &inFlight{buf: data}
	entry.cond = sync.NewCond(&entry.mu)
	f.inflightMu.Lock()
	f.inflight[offset] = entry
	f.inflightMu.Unlock()

	done := make(chan error, 1)
	f.queue <- writeReq{offset: offset, data: data, done: done}
	if err := <-done; err != nil {
		return uid.Zero, cmn.WrapIO(err, "file backend: write at %d", offset)
	}

	return uid.FromPersistentOffset(objType, uid.File, uint64(offset), uint32(len(data))), nil
}

func (f *File) GetObject(_ context.Context, _ int, id uid.UID, w *wrapper.Wrapper) error {
	offset := int64(id.PersistentOffset())

	f.inflightMu.Lock()
	entry := f.inflight[offset]
	f.inflightMu.Unlock()

	var raw []byte
	if entry != nil {
		entry.mu.Lock()
		for !entry.settled {
			entry.cond.Wait()
		}
		raw = entry.buf
		entry.mu.Unlock()
	} else {
		raw = make([]byte, id.PersistentSize())
		if _, err := f.f.ReadAt(raw, offset); err != nil {
			f.misses.Inc()
			return cmn.WrapIO(err, "file backend: read at %d", offset)
		}
	}

	core, err := f.deser(id.ObjectType(), raw, int(f.blockSize))
	if err != nil {
		return err
	}
	f.hits.Inc()
	w.SetCore(core)
	w.SetUID(id)
	return nil
}

func (f *File) Remove(_ context.Context, id uid.UID) error {
	f.alloc.Free(int64(id.PersistentOffset()), int64(id.PersistentSize()))
	return nil
}

func (f *File) AccessCost(uint16) int64 { return f.cost }

func (f *File) Stats() (hits, misses int64) { return f.hits.Load(), f.misses.Load() }

var _ Backend = (*File)(nil)
