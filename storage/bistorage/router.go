// Package bistorage implements the storage-tier router of spec.md §4.4: given two
// already-constructed backends, it dispatches add_object/get_object/remove by inspecting
// the object-type tag carried in the UID (or the wrapper's object type, on add), routing
// one type to primary and everything else to secondary.
package bistorage

import (
	"context"

	"github.com/coralstore/bpcache/cmn"
	"github.com/coralstore/bpcache/storage"
	"github.com/coralstore/bpcache/uid"
	"github.com/coralstore/bpcache/wrapper"
)

// Router dispatches each request to primary or secondary by object-type tag. Reported
// read/write costs are fixed per tier at construction time and exposed unmodified via
// AccessCost, per spec.md §4.4.
type Router struct {
	primary, secondary storage.Backend
	primaryType        uint16
}

// New validates that both backends are present and distinct — grounded on
// original_source's BiStorage constructor, which refuses to wire the same backend in
// twice since that would silently defeat cost-asymmetric tiering — and returns a Router.
func New(primary, secondary storage.Backend, primaryType uint16) *Router {
	cmn.Assert(primary != nil && secondary != nil)
	cmn.AssertMsg(primary != secondary, "bistorage: primary and secondary must be distinct backends")
	return &Router{primary: primary, secondary: secondary, primaryType: primaryType}
}

func (r *Router) backendFor(objectType uint16) storage.Backend {
	if objectType == r.primaryType {
		return r.primary
	}
	return r.secondary
}

func (r *Router) Init() error {
	if err := r.primary.Init(); err != nil {
		return err
	}
	return r.secondary.Init()
}

func (r *Router) AddObject(ctx context.Context, w *wrapper.Wrapper) (uid.UID, error) {
	return r.backendFor(w.UID().ObjectType()).AddObject(ctx, w)
}

func (r *Router) GetObject(ctx context.Context, degree int, id uid.UID, w *wrapper.Wrapper) error {
	return r.backendFor(id.ObjectType()).GetObject(ctx, degree, id, w)
}

func (r *Router) Remove(ctx context.Context, id uid.UID) error {
	return r.backendFor(id.ObjectType()).Remove(ctx, id)
}

func (r *Router) AccessCost(objectType uint16) int64 {
	return r.backendFor(objectType).AccessCost(objectType)
}

var _ storage.Backend = (*Router)(nil)
