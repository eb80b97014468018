package delta

import (
	"errors"
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

var (
	// ErrCompacted is returned when a requested range was already folded into
	// the base state; the peer needs a full state transfer instead.
	ErrCompacted = errors.New("delta range compacted")
	ErrGap       = errors.New("delta sequence gap")
)

// Delta is one atomic change produced by a mutation at its origin replica.
// Context is the origin's version vector of the collection before the change.
type Delta struct {
	Collection string                `json:"collection_id" msgpack:"collection_id"`
	Kind       crdt.Kind             `json:"crdt_type" msgpack:"crdt_type"`
	Payload    []byte                `json:"payload" msgpack:"payload"`
	Origin     replica.ID            `json:"origin" msgpack:"origin"`
	Seq        uint64                `json:"sequence_number" msgpack:"sequence_number"`
	Context    replica.VersionVector `json:"context" msgpack:"context"`
}

// Key identifies a delta for deduplication.
type Key struct {
	Origin replica.ID
	Seq    uint64
}

func (d Delta) Key() Key {
	return Key{Origin: d.Origin, Seq: d.Seq}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Origin, k.Seq)
}

// Fragment decodes the payload.
func (d Delta) Fragment() (crdt.State, error) {
	return crdt.Decode(d.Kind, d.Payload)
}

// New encodes fragment into a delta.
func New(collection string, fragment crdt.State, origin replica.ID, seq uint64, context replica.VersionVector) (Delta, error) {
	payload, err := crdt.Encode(fragment)
	if err != nil {
		return Delta{}, err
	}
	return Delta{
		Collection: collection,
		Kind:       fragment.Kind(),
		Payload:    payload,
		Origin:     origin,
		Seq:        seq,
		Context:    context.Clone(),
	}, nil
}
