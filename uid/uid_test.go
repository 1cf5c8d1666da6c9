package uid_test

import (
	"testing"

	"github.com/coralstore/bpcache/uid"
)

func TestVolatileRoundTrip(t *testing.T) {
	u := uid.FromVolatileSlot(7, 42)
	if u.IsPersisted() {
		t.Fatal("expected volatile UID")
	}
	if u.ObjectType() != 7 {
		t.Fatalf("object type: got %d", u.ObjectType())
	}
	if u.VolatileSlot() != 42 {
		t.Fatalf("slot: got %d", u.VolatileSlot())
	}
}

func TestPersistentRoundTrip(t *testing.T) {
	u := uid.FromPersistentOffset(3, uid.File, 4096, 4096)
	if !u.IsPersisted() {
		t.Fatal("expected persisted UID")
	}
	if u.StorageMedium() != uid.File {
		t.Fatalf("medium: got %v", u.StorageMedium())
	}
	if u.PersistentOffset() != 4096 || u.PersistentSize() != 4096 {
		t.Fatalf("offset/size: got %d/%d", u.PersistentOffset(), u.PersistentSize())
	}
}

func TestEqualityIsBitExact(t *testing.T) {
	a := uid.FromPersistentOffset(1, uid.File, 100, 200)
	b := uid.FromPersistentOffset(1, uid.File, 100, 200)
	c := uid.FromPersistentOffset(1, uid.File, 100, 201)
	if a != b {
		t.Fatal("expected equal UIDs to compare equal")
	}
	if a == c {
		t.Fatal("expected differing size to compare unequal")
	}
}

func TestFromPersistentOffsetRejectsVolatile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for volatile medium")
		}
	}()
	uid.FromPersistentOffset(1, uid.Volatile, 0, 0)
}
