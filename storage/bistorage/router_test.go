package bistorage_test

import (
	"context"
	"testing"

	"github.com/coralstore/bpcache/storage"
	"github.com/coralstore/bpcache/storage/bistorage"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

type fakeCore struct{ payload []byte }

func (f *fakeCore) Serialize(buf []byte, blockSize int) ([]byte, bool, error) {
	return append(buf[:0], f.payload...), false, nil
}

const (
	indexType uint16 = 1
	dataType  uint16 = 2
)

func TestRouterDispatchesByObjectType(t *testing.T) {
	ctx := context.Background()
	primary := storage.NewVolatile(4, 1)  // serves indexType
	secondary := storage.NewVolatile(4, 5) // serves dataType
	r := bistorage.New(primary, secondary, indexType)
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}

	idxWrapper := wrapper.New(uid.FromVolatileSlot(indexType, 0), &fakeCore{payload: []byte("idx")})
	idxID, err := r.AddObject(ctx, idxWrapper)
	if err != nil {
		t.Fatalf("AddObject(index): %v", err)
	}
	if h, _ := primary.Stats(); h != 0 {
		t.Fatalf("unexpected primary hit before a read: %d", h)
	}
	var out wrapper.Wrapper
	if err := r.GetObject(ctx, 0, idxID, &out); err != nil {
		t.Fatalf("GetObject(index): %v", err)
	}
	if hits, _ := primary.Stats(); hits != 1 {
		t.Fatalf("expected the index object routed to primary, got %d primary hits", hits)
	}

	dataWrapper := wrapper.New(uid.FromVolatileSlot(dataType, 0), &fakeCore{payload: []byte("data")})
	dataID, err := r.AddObject(ctx, dataWrapper)
	if err != nil {
		t.Fatalf("AddObject(data): %v", err)
	}
	if err := r.GetObject(ctx, 0, dataID, &out); err != nil {
		t.Fatalf("GetObject(data): %v", err)
	}
	if hits, _ := secondary.Stats(); hits != 1 {
		t.Fatalf("expected the data object routed to secondary, got %d secondary hits", hits)
	}

	if r.AccessCost(indexType) != 1 {
		t.Fatalf("expected primary's cost for index type, got %d", r.AccessCost(indexType))
	}
	if r.AccessCost(dataType) != 5 {
		t.Fatalf("expected secondary's cost for data type, got %d", r.AccessCost(dataType))
	}
}

func TestRouterRejectsIdenticalBackends(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when primary and secondary are the same backend")
		}
	}()
	same := storage.NewVolatile(4, 1)
	bistorage.New(same, same, indexType)
}
