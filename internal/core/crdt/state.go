package crdt

import (
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// State is one value of the closed CRDT union. Only the types of this package
// implement it.
type State interface {
	Kind() Kind
	Clone() State
	Equal(other State) bool
	// Keys lists the keys touched by this state. For a delta fragment these
	// are the keys a change notification is emitted for.
	Keys() []string
	// MaxCounter is the largest logical counter carried by the state, used to
	// advance the local clock past remote writes.
	MaxCounter() uint64

	wire() any
}

// New returns the empty state of kind. The policy only matters for graph and tree.
func New(kind Kind, policy Policy) (State, error) {
	switch kind {
	case KindLWWRegister:
		return NewLWWRegister(), nil
	case KindLWWMap:
		return NewLWWMap(), nil
	case KindGCounter:
		return NewGCounter(), nil
	case KindSequence:
		return NewSequence(), nil
	case KindGraph:
		return NewGraph(policy), nil
	case KindTree:
		return NewTree(policy), nil
	default:
		return nil, errs.New(errs.CodeIncompatibleType, fmt.Sprintf("create %s", kind), errs.ErrIncompatibleType)
	}
}

// Check rejects a state whose kind differs from want. It is the guard that
// runs before any merge.
func Check(want Kind, s State) error {
	if s == nil {
		return errs.New(errs.CodeIncompatibleType, fmt.Sprintf("nil state for %s", want), errs.ErrIncompatibleType)
	}
	if s.Kind() != want {
		return errs.New(errs.CodeIncompatibleType, fmt.Sprintf("%s applied to %s", s.Kind(), want), errs.ErrIncompatibleType).
			WithContext("want", want.String()).
			WithContext("got", s.Kind().String())
	}
	return nil
}

// Merge folds src into dst after checking that both are of the same kind.
// The typed merges themselves cannot fail.
func Merge(dst, src State) error {
	if err := Check(dst.Kind(), src); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *LWWRegister:
		d.Merge(src.(*LWWRegister))
	case *LWWMap:
		d.Merge(src.(*LWWMap))
	case *GCounter:
		d.Merge(src.(*GCounter))
	case *Sequence:
		d.Merge(src.(*Sequence))
	case *Graph:
		d.Merge(src.(*Graph))
	case *Tree:
		d.Merge(src.(*Tree))
	}
	return nil
}

// Merged returns merge(a, b) without touching either input.
func Merged(a, b State) (State, error) {
	out := a.Clone()
	if err := Merge(out, b); err != nil {
		return nil, err
	}
	return out, nil
}

func maxCounter(stamps ...replica.Timestamp) uint64 {
	var m uint64
	for _, s := range stamps {
		if s.Counter > m {
			m = s.Counter
		}
	}
	return m
}
