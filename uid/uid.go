// Package uid implements the object identifier described in spec.md §4.1: a small,
// bit-exact-comparable record that carries an object-type tag, a storage-medium tag, and
// either a volatile location or a persisted (offset, size) pair.
//
// Per the "Tagged UID variant" design note (spec.md §9), the volatile case does not carry
// a raw pointer: it carries a slot index into the owning policy's wrapper arena
// (spec.md §9, "Pointer graphs → arena + indices"). This removes the cycle and
// use-after-free hazards a raw pointer would invite while keeping O(1) resolution.
package uid

import "fmt"

// Medium distinguishes where a UID's bytes currently live.
type Medium uint8

const (
	// Volatile means the payload is a slot index into an in-process wrapper arena.
	Volatile Medium = iota
	// File means the payload is an (offset, size) pair on the file backend's arena.
	File
	// PMem means the payload is an (offset, size) pair on the pmem backend's arena.
	PMem
)

func (m Medium) String() string {
	switch m {
	case Volatile:
		return "volatile"
	case File:
		return "file"
	case PMem:
		return "pmem"
	default:
		return fmt.Sprintf("medium(%d)", uint8(m))
	}
}

// UID is deliberately a small value type so that equality is `==` (bit-exact on the full
// record, per spec.md §4.1) and so it can be used as a map key without boxing.
type UID struct {
	objectType uint16
	medium     Medium
	slot       uint64 // valid iff medium == Volatile
	offset     uint64 // valid iff medium != Volatile
	size       uint32 // valid iff medium != Volatile
}

// Zero is the never-valid identifier, used as a "no UID" sentinel (e.g. Wrapper.UIDUpdated
// before a writeback has happened).
var Zero UID

// FromVolatileSlot constructs a UID for a newly created, not-yet-persisted object
// (spec.md §4.1, "from_volatile_pointer").
func FromVolatileSlot(objectType uint16, slot uint64) UID {
	return UID{objectType: objectType, medium: Volatile, slot: slot}
}

// FromPersistentOffset constructs a UID for an object that has been written to a backing
// arena (spec.md §4.1, "from_persistent_offset"). medium must be File or PMem.
func FromPersistentOffset(objectType uint16, medium Medium, offset uint64, size uint32) UID {
	if medium == Volatile {
		panic("uid: FromPersistentOffset requires a persisted medium")
	}
	return UID{objectType: objectType, medium: medium, offset: offset, size: size}
}

func (u UID) ObjectType() uint16 { return u.objectType }
func (u UID) StorageMedium() Medium { return u.medium }
func (u UID) IsPersisted() bool { return u.medium != Volatile }

// VolatileSlot returns the arena slot index. Valid only when !IsPersisted().
func (u UID) VolatileSlot() uint64 { return u.slot }

// PersistentOffset returns the byte offset on the backing arena. Valid only when
// IsPersisted().
func (u UID) PersistentOffset() uint64 { return u.offset }

// PersistentSize returns the byte length on the backing arena. Valid only when
// IsPersisted().
func (u UID) PersistentSize() uint32 { return u.size }

func (u UID) String() string {
	if u.IsPersisted() {
		return fmt.Sprintf("uid[type=%d medium=%s off=%d size=%d]", u.objectType, u.medium, u.offset, u.size)
	}
	return fmt.Sprintf("uid[type=%d medium=volatile slot=%d]", u.objectType, u.slot)
}

// Bits packs the record into a single uint64 for cheap hashing (policy/a2q uses this to
// key its ghost-queue filter). Not meant to be a reversible encoding across all
// field widths; offsets larger than 40 bits collapse, which is acceptable for hashing.
func (u UID) Bits() uint64 {
	b := uint64(u.objectType)<<48 | uint64(u.medium)<<40
	if u.IsPersisted() {
		b |= u.offset & 0xFFFFFFFFFF
	} else {
		b |= u.slot & 0xFFFFFFFFFF
	}
	return b
}
