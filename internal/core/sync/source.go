package sync

import (
	"context"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Syncable is the view of a collection the engine replicates. All methods
// are safe for concurrent use.
type Syncable interface {
	Name() string
	Kind() crdt.Kind
	// Vector is the applied version vector.
	Vector() replica.VersionVector
	Digest() (uint64, error)
	// Held counts deltas waiting in the reorder buffer.
	Held() int
	// DeltasSince lists retained deltas vv does not cover, or returns
	// delta.ErrCompacted.
	DeltasSince(vv replica.VersionVector) ([]delta.Delta, error)
	// FullState encodes the whole state with the vector it reflects.
	FullState() ([]byte, replica.VersionVector, error)
	// ApplyDelta applies d exactly once and in order. errs.ErrBufferOverflow
	// means the reorder buffer was dropped and NeedsFullState is now set.
	// from is the peer the delta arrived from.
	ApplyDelta(ctx context.Context, d delta.Delta, from replica.ID) (delta.Verdict, error)
	ApplyFullState(ctx context.Context, kind crdt.Kind, payload []byte, vv replica.VersionVector, from replica.ID) error
	NeedsFullState() bool
}

// Source holds the collections of the local replica.
type Source interface {
	Lookup(name string) (Syncable, bool)
	// Ensure returns the named collection, creating it when the source allows
	// peers to introduce collections. Otherwise it fails with errs.ErrNotFound.
	Ensure(name string, kind crdt.Kind) (Syncable, error)
	All() []Syncable
	// OnDelta registers the hook that receives every delta committed locally
	// (from == local id) or applied from peer from.
	OnDelta(fn func(d delta.Delta, from replica.ID))
}
