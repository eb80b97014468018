package crdt

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Encode serialises a state. Every map is flattened into a sorted list first,
// so equal states always produce equal bytes.
func Encode(s State) ([]byte, error) {
	data, err := msgpack.Marshal(s.wire())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.Kind(), err)
	}
	return data, nil
}

// Decode is the inverse of Encode for a known kind.
func Decode(kind Kind, data []byte) (State, error) {
	var (
		out State
		err error
	)
	switch kind {
	case KindLWWRegister:
		r := NewLWWRegister()
		err = msgpack.Unmarshal(data, r)
		out = r
	case KindLWWMap:
		var entries []mapEntryWire
		err = msgpack.Unmarshal(data, &entries)
		m := NewLWWMap()
		for _, e := range entries {
			if e.Register != nil {
				m.Entries[e.Key] = e.Register
			}
		}
		out = m
	case KindGCounter:
		var entries []replica.Entry
		err = msgpack.Unmarshal(data, &entries)
		c := NewGCounter()
		for _, e := range entries {
			c.Counts[e.Replica] = e.Seq
		}
		out = c
	case KindSequence:
		var elems []Element
		err = msgpack.Unmarshal(data, &elems)
		q := NewSequence()
		for i := range elems {
			q.insertElement(&elems[i])
		}
		out = q
	case KindGraph:
		var w graphWire
		err = msgpack.Unmarshal(data, &w)
		out = &Graph{Policy: w.Policy, vertices: w.Vertices.set(), edges: w.Edges.set()}
	case KindTree:
		var w treeWire
		err = msgpack.Unmarshal(data, &w)
		t := &Tree{Policy: w.Policy, nodes: w.Nodes.set()}
		for _, m := range w.Moves {
			t.insertMove(m)
		}
		out = t
	default:
		return nil, errs.New(errs.CodeIncompatibleType, fmt.Sprintf("decode %s", kind), errs.ErrIncompatibleType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return out, nil
}

// Digest is a 64-bit fingerprint of the encoded state. Two replicas with equal
// version vectors but different digests have diverged.
func Digest(s State) (uint64, error) {
	data, err := Encode(s)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

// Divergence is a key written concurrently on two replicas with different
// outcomes.
type Divergence struct {
	Key    string
	Local  *LWWRegister
	Remote *LWWRegister
}

// Divergences compares an incoming fragment with local state before they are
// merged. context is the version vector of the fragment's origin when it was
// produced; a local write the origin had already seen is not a conflict.
// applied is the local applied vector; an incoming write it already covers is
// older than the local value and not a conflict either.
// Only register based kinds can diverge, the other kinds merge without loss.
func Divergences(local, fragment State, context, applied replica.VersionVector) []Divergence {
	pairs := map[string][2]*LWWRegister{}
	switch l := local.(type) {
	case *LWWRegister:
		if r, ok := fragment.(*LWWRegister); ok {
			pairs[""] = [2]*LWWRegister{l, r}
		}
	case *LWWMap:
		if f, ok := fragment.(*LWWMap); ok {
			for k, r := range f.Entries {
				if cur, ok := l.Entries[k]; ok {
					pairs[k] = [2]*LWWRegister{cur, r}
				}
			}
		}
	}

	var out []Divergence
	for key, p := range pairs {
		cur, in := p[0], p[1]
		switch {
		case cur.Stamp.IsZero(), cur.SameWrite(in):
		case cur.Stamp.Replica == in.Stamp.Replica:
		case context.Covers(cur.Stamp.Replica, cur.Seq):
		case applied.Covers(in.Stamp.Replica, in.Seq):
		case cur.Deleted && in.Deleted:
		default:
			out = append(out, Divergence{Key: key, Local: cur.clone(), Remote: in.clone()})
		}
	}
	slices.SortFunc(out, func(a, b Divergence) int { return strings.Compare(a.Key, b.Key) })
	return out
}
