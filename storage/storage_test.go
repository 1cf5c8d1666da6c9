package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coralstore/bpcache/storage"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

type fakeCore struct{ payload []byte }

func (f *fakeCore) Serialize(buf []byte, blockSize int) ([]byte, bool, error) {
	return append(buf[:0], f.payload...), false, nil
}

func fakeDeserializer(_ uint16, data []byte, _ int) (wrapper.CoreObject, error) {
	return &fakeCore{payload: append([]byte(nil), data...)}, nil
}

func TestVolatileAddGetRemove(t *testing.T) {
	ctx := context.Background()
	v := storage.NewVolatile(4, 1)
	if err := v.Init(); err != nil {
		t.Fatal(err)
	}

	w := wrapper.New(uid.FromVolatileSlot(1, 0), &fakeCore{payload: []byte("hello")})
	id, err := v.AddObject(ctx, w)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if id.IsPersisted() {
		t.Fatal("volatile tier must never report a persisted UID")
	}

	var out wrapper.Wrapper
	if err := v.GetObject(ctx, 0, id, &out); err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if out.Core().(*fakeCore).payload == nil {
		t.Fatal("expected core to round-trip")
	}

	if err := v.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := v.GetObject(ctx, 0, id, &out); err == nil {
		t.Fatal("expected GetObject to fail after Remove")
	}
}

func TestVolatileExhaustionReturnsOutOfStorage(t *testing.T) {
	ctx := context.Background()
	v := storage.NewVolatile(1, 1)
	w1 := wrapper.New(uid.FromVolatileSlot(1, 0), &fakeCore{payload: []byte("a")})
	if _, err := v.AddObject(ctx, w1); err != nil {
		t.Fatalf("first AddObject: %v", err)
	}
	w2 := wrapper.New(uid.FromVolatileSlot(1, 0), &fakeCore{payload: []byte("b")})
	if _, err := v.AddObject(ctx, w2); err == nil {
		t.Fatal("expected out-of-storage once the arena is full")
	}
}

func TestFileAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arena.bin")
	f, err := storage.NewFile(path, 64*1024, 4096, fakeDeserializer, 10)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	w := wrapper.New(uid.FromVolatileSlot(2, 0), &fakeCore{payload: []byte("leaf bytes")})
	id, err := f.AddObject(ctx, w)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if !id.IsPersisted() || id.StorageMedium() != uid.File {
		t.Fatalf("expected a file-medium persisted UID, got %v", id)
	}

	var out wrapper.Wrapper
	if err := f.GetObject(ctx, 0, id, &out); err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(out.Core().(*fakeCore).payload) != "leaf bytes" {
		t.Fatalf("round-trip mismatch: got %q", out.Core().(*fakeCore).payload)
	}

	if err := f.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestFileOutOfStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arena.bin")
	f, err := storage.NewFile(path, 4096, 4096, fakeDeserializer, 10)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	w1 := wrapper.New(uid.FromVolatileSlot(2, 0), &fakeCore{payload: make([]byte, 4096)})
	if _, err := f.AddObject(ctx, w1); err != nil {
		t.Fatalf("first AddObject: %v", err)
	}
	w2 := wrapper.New(uid.FromVolatileSlot(2, 0), &fakeCore{payload: []byte("overflow")})
	if _, err := f.AddObject(ctx, w2); err == nil {
		t.Fatal("expected out-of-storage once the arena file is full")
	}
}
