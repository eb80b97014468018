package crdt

import (
	"bytes"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*LWWRegister)(nil)

// LWWRegister holds a single value. The write with the greatest
// (timestamp, replica) wins; Seq is the delta sequence number of the write
// at its origin and serves as its causal dot.
type LWWRegister struct {
	Value   []byte            `msgpack:"v"`
	Deleted bool              `msgpack:"d"`
	Stamp   replica.Timestamp `msgpack:"t"`
	Seq     uint64            `msgpack:"s"`
}

func NewLWWRegister() *LWWRegister {
	return &LWWRegister{}
}

func (r *LWWRegister) Kind() Kind { return KindLWWRegister }

// Get returns the current value. A register never written or deleted reads
// as absent.
func (r *LWWRegister) Get() ([]byte, bool) {
	if r.Stamp.IsZero() || r.Deleted {
		return nil, false
	}
	return r.Value, true
}

// Set writes value at ts and returns the fragment describing the write.
func (r *LWWRegister) Set(value []byte, ts replica.Timestamp, seq uint64) *LWWRegister {
	w := &LWWRegister{Value: bytes.Clone(value), Stamp: ts, Seq: seq}
	r.Merge(w)
	return w.clone()
}

// Clear writes a tombstone at ts.
func (r *LWWRegister) Clear(ts replica.Timestamp, seq uint64) *LWWRegister {
	w := &LWWRegister{Deleted: true, Stamp: ts, Seq: seq}
	r.Merge(w)
	return w.clone()
}

// Merge adopts other when it orders after r. Identical stamps carrying
// different content are ordered by the content itself so that the result
// never depends on argument order.
func (r *LWWRegister) Merge(other *LWWRegister) {
	if other.after(r) {
		*r = *other.clone()
	}
}

func (r *LWWRegister) after(other *LWWRegister) bool {
	if c := r.Stamp.Compare(other.Stamp); c != 0 {
		return c > 0
	}
	if r.Deleted != other.Deleted {
		return r.Deleted
	}
	if c := bytes.Compare(r.Value, other.Value); c != 0 {
		return c > 0
	}
	return r.Seq > other.Seq
}

// SameWrite reports whether both registers hold the same write.
func (r *LWWRegister) SameWrite(other *LWWRegister) bool {
	return r.Stamp == other.Stamp &&
		r.Deleted == other.Deleted &&
		r.Seq == other.Seq &&
		bytes.Equal(r.Value, other.Value)
}

func (r *LWWRegister) clone() *LWWRegister {
	out := *r
	out.Value = bytes.Clone(r.Value)
	return &out
}

func (r *LWWRegister) Clone() State { return r.clone() }

func (r *LWWRegister) Equal(other State) bool {
	o, ok := other.(*LWWRegister)
	return ok && r.SameWrite(o)
}

func (r *LWWRegister) Keys() []string { return []string{""} }

func (r *LWWRegister) MaxCounter() uint64 { return r.Stamp.Counter }

func (r *LWWRegister) wire() any { return r }
