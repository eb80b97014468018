package crdt

import (
	"bytes"
	"slices"
	"sort"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*Sequence)(nil)

// Element is one entry of a Sequence. Removed elements stay as tombstones.
type Element struct {
	Pos     Position          `msgpack:"p"`
	Value   []byte            `msgpack:"v"`
	Deleted bool              `msgpack:"d"`
	Stamp   replica.Timestamp `msgpack:"t"`
}

// Sequence is an ordered list whose order is the order of element positions.
// Merge is the union of elements; a removal can never be undone.
type Sequence struct {
	elems []*Element // sorted by Pos
}

func NewSequence() *Sequence {
	return &Sequence{}
}

func (q *Sequence) Kind() Kind { return KindSequence }

// Len counts visible elements.
func (q *Sequence) Len() int {
	n := 0
	for _, e := range q.elems {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Values returns the visible values in order.
func (q *Sequence) Values() [][]byte {
	out := make([][]byte, 0, len(q.elems))
	for _, e := range q.elems {
		if !e.Deleted {
			out = append(out, e.Value)
		}
	}
	return out
}

// String concatenates the visible values, which is handy for text.
func (q *Sequence) String() string {
	return string(bytes.Join(q.Values(), nil))
}

// Elements returns every element including tombstones.
func (q *Sequence) Elements() []Element {
	out := make([]Element, len(q.elems))
	for i, e := range q.elems {
		out[i] = *e
	}
	return out
}

// Insert places value so that it becomes the visible element at index and
// returns the fragment holding the new element. index is clamped to [0, Len].
func (q *Sequence) Insert(index int, value []byte, ts replica.Timestamp) *Sequence {
	after := q.physical(index - 1) // -1 when inserting at the front
	var left, right Position
	if after >= 0 {
		left = q.elems[after].Pos
	}
	if after+1 < len(q.elems) {
		right = q.elems[after+1].Pos
	}

	e := &Element{Pos: Between(left, right, ts.Replica), Value: bytes.Clone(value), Stamp: ts}
	q.insertElement(e)
	return &Sequence{elems: []*Element{cloneElement(e)}}
}

// Append inserts at the end.
func (q *Sequence) Append(value []byte, ts replica.Timestamp) *Sequence {
	return q.Insert(q.Len(), value, ts)
}

// Remove tombstones the visible element at index. ok is false when index is
// out of range.
func (q *Sequence) Remove(index int) (*Sequence, bool) {
	if index < 0 || index >= q.Len() {
		return nil, false
	}
	e := q.elems[q.physical(index)]
	e.Deleted = true
	return &Sequence{elems: []*Element{cloneElement(e)}}, true
}

// physical maps a visible index to an index into elems. Indexes below zero
// map to -1; indexes past the end map to the last element.
func (q *Sequence) physical(index int) int {
	if index < 0 {
		return -1
	}
	seen := -1
	last := -1
	for i, e := range q.elems {
		last = i
		if e.Deleted {
			continue
		}
		seen++
		if seen == index {
			return i
		}
	}
	return last
}

func (q *Sequence) insertElement(e *Element) {
	i, found := q.search(e.Pos)
	if found {
		q.elems[i].Deleted = q.elems[i].Deleted || e.Deleted
		return
	}
	q.elems = slices.Insert(q.elems, i, e)
}

func (q *Sequence) search(pos Position) (int, bool) {
	i := sort.Search(len(q.elems), func(i int) bool {
		return q.elems[i].Pos.Compare(pos) >= 0
	})
	return i, i < len(q.elems) && q.elems[i].Pos.Compare(pos) == 0
}

func (q *Sequence) Merge(other *Sequence) {
	for _, e := range other.elems {
		q.insertElement(cloneElement(e))
	}
}

func cloneElement(e *Element) *Element {
	out := *e
	out.Pos = slices.Clone(e.Pos)
	out.Value = bytes.Clone(e.Value)
	return &out
}

func (q *Sequence) Clone() State {
	out := &Sequence{elems: make([]*Element, len(q.elems))}
	for i, e := range q.elems {
		out.elems[i] = cloneElement(e)
	}
	return out
}

func (q *Sequence) Equal(other State) bool {
	o, ok := other.(*Sequence)
	if !ok || len(q.elems) != len(o.elems) {
		return false
	}
	for i, e := range q.elems {
		f := o.elems[i]
		if e.Pos.Compare(f.Pos) != 0 || e.Deleted != f.Deleted || !bytes.Equal(e.Value, f.Value) {
			return false
		}
	}
	return true
}

func (q *Sequence) Keys() []string {
	out := make([]string, len(q.elems))
	for i, e := range q.elems {
		out[i] = e.Pos.String()
	}
	return out
}

func (q *Sequence) MaxCounter() uint64 {
	var out uint64
	for _, e := range q.elems {
		out = max(out, e.Stamp.Counter)
	}
	return out
}

func (q *Sequence) wire() any {
	out := make([]Element, len(q.elems))
	for i, e := range q.elems {
		out[i] = *e
	}
	return out
}
