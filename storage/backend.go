// Package storage implements the three backend tiers of spec.md §4.3 — Volatile, File,
// and PMem — behind one shared contract, plus (in the bistorage subpackage) the router
// that dispatches between two of them by object-type tag.
package storage

import (
	"context"

	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// Backend is the shared contract every storage tier implements (spec.md §4.3).
// GetObject deserializes into w in place; AddObject serializes w's core object and
// returns the UID of its new persisted (or volatile-arena) location.
type Backend interface {
	Init() error
	Remove(ctx context.Context, id uid.UID) error
	GetObject(ctx context.Context, degree int, id uid.UID, w *wrapper.Wrapper) error
	AddObject(ctx context.Context, w *wrapper.Wrapper) (uid.UID, error)

	// AccessCost reports this tier's fixed per-object read/write cost, fed to
	// cost-weighted eviction (spec.md §4.5) when enabled.
	AccessCost(objectType uint16) int64
}
