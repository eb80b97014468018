package manager

import (
	"errors"
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// ErrOutOfRange is returned by sequence deletes past the end.
var ErrOutOfRange = errors.New("index out of range")

// Op is a local mutation. Each op targets exactly one CRDT kind; applying it
// to a collection of another kind fails with errs.ErrIncompatibleType.
type Op interface {
	Kind() crdt.Kind
	// apply mutates state and returns the fragment describing the change.
	apply(state crdt.State, id replica.ID, ts replica.Timestamp, seq uint64) (crdt.State, error)
	fmt.Stringer
}

type assignOp struct{ value []byte }

// Assign writes a register.
func Assign(value []byte) Op { return assignOp{value: value} }

func (assignOp) Kind() crdt.Kind { return crdt.KindLWWRegister }
func (assignOp) String() string  { return "assign" }
func (o assignOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, seq uint64) (crdt.State, error) {
	return s.(*crdt.LWWRegister).Set(o.value, ts, seq), nil
}

type clearOp struct{}

// Clear tombstones a register.
func Clear() Op { return clearOp{} }

func (clearOp) Kind() crdt.Kind { return crdt.KindLWWRegister }
func (clearOp) String() string  { return "clear" }
func (clearOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, seq uint64) (crdt.State, error) {
	return s.(*crdt.LWWRegister).Clear(ts, seq), nil
}

type putOp struct {
	key   string
	value []byte
}

func Put(key string, value []byte) Op { return putOp{key: key, value: value} }

func (putOp) Kind() crdt.Kind  { return crdt.KindLWWMap }
func (o putOp) String() string { return "put " + o.key }
func (o putOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, seq uint64) (crdt.State, error) {
	return s.(*crdt.LWWMap).Set(o.key, o.value, ts, seq), nil
}

type removeOp struct{ key string }

func Remove(key string) Op { return removeOp{key: key} }

func (removeOp) Kind() crdt.Kind  { return crdt.KindLWWMap }
func (o removeOp) String() string { return "remove " + o.key }
func (o removeOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, seq uint64) (crdt.State, error) {
	return s.(*crdt.LWWMap).Delete(o.key, ts, seq), nil
}

type incrementOp struct{ n uint64 }

// Increment adds n to the local contribution of a grow-only counter.
func Increment(n uint64) Op { return incrementOp{n: n} }

func (incrementOp) Kind() crdt.Kind  { return crdt.KindGCounter }
func (o incrementOp) String() string { return fmt.Sprintf("increment %d", o.n) }
func (o incrementOp) apply(s crdt.State, id replica.ID, _ replica.Timestamp, _ uint64) (crdt.State, error) {
	return s.(*crdt.GCounter).Increment(id, o.n), nil
}

type insertOp struct {
	index int
	value []byte
	tail  bool
}

// InsertAt places value at visible index, clamped to the sequence bounds.
func InsertAt(index int, value []byte) Op { return insertOp{index: index, value: value} }

func Append(value []byte) Op { return insertOp{value: value, tail: true} }

func (insertOp) Kind() crdt.Kind { return crdt.KindSequence }
func (o insertOp) String() string {
	if o.tail {
		return "append"
	}
	return fmt.Sprintf("insert %d", o.index)
}
func (o insertOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, _ uint64) (crdt.State, error) {
	q := s.(*crdt.Sequence)
	if o.tail {
		return q.Append(o.value, ts), nil
	}
	return q.Insert(o.index, o.value, ts), nil
}

type deleteAtOp struct{ index int }

func DeleteAt(index int) Op { return deleteAtOp{index: index} }

func (deleteAtOp) Kind() crdt.Kind  { return crdt.KindSequence }
func (o deleteAtOp) String() string { return fmt.Sprintf("delete %d", o.index) }
func (o deleteAtOp) apply(s crdt.State, _ replica.ID, _ replica.Timestamp, _ uint64) (crdt.State, error) {
	frag, ok := s.(*crdt.Sequence).Remove(o.index)
	if !ok {
		return nil, fmt.Errorf("delete %d: %w", o.index, ErrOutOfRange)
	}
	return frag, nil
}

type vertexOp struct {
	id     string
	remove bool
}

func AddVertex(id string) Op    { return vertexOp{id: id} }
func RemoveVertex(id string) Op { return vertexOp{id: id, remove: true} }

func (vertexOp) Kind() crdt.Kind { return crdt.KindGraph }
func (o vertexOp) String() string {
	if o.remove {
		return "remove vertex " + o.id
	}
	return "add vertex " + o.id
}
func (o vertexOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, _ uint64) (crdt.State, error) {
	if err := crdt.ValidVertex(o.id); err != nil {
		return nil, fmt.Errorf("%s: %w", o, err)
	}
	g := s.(*crdt.Graph)
	if o.remove {
		return g.RemoveVertex(o.id, ts), nil
	}
	return g.AddVertex(o.id, ts), nil
}

type edgeOp struct {
	from, to string
	remove   bool
}

func AddEdge(from, to string) Op    { return edgeOp{from: from, to: to} }
func RemoveEdge(from, to string) Op { return edgeOp{from: from, to: to, remove: true} }

func (edgeOp) Kind() crdt.Kind { return crdt.KindGraph }
func (o edgeOp) String() string {
	if o.remove {
		return "remove edge " + o.from + "->" + o.to
	}
	return "add edge " + o.from + "->" + o.to
}
func (o edgeOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, _ uint64) (crdt.State, error) {
	for _, id := range []string{o.from, o.to} {
		if err := crdt.ValidVertex(id); err != nil {
			return nil, fmt.Errorf("%s: %w", o, err)
		}
	}
	g := s.(*crdt.Graph)
	if o.remove {
		return g.RemoveEdge(o.from, o.to, ts), nil
	}
	return g.AddEdge(o.from, o.to, ts), nil
}

type nodeOp struct {
	id, parent string
	verb       string
}

// AddNode creates a tree node under parent; an empty parent makes a root.
func AddNode(id, parent string) Op { return nodeOp{id: id, parent: parent, verb: "add"} }

func MoveNode(id, parent string) Op { return nodeOp{id: id, parent: parent, verb: "move"} }

func RemoveNode(id string) Op { return nodeOp{id: id, verb: "remove"} }

func (nodeOp) Kind() crdt.Kind  { return crdt.KindTree }
func (o nodeOp) String() string { return o.verb + " node " + o.id }
func (o nodeOp) apply(s crdt.State, _ replica.ID, ts replica.Timestamp, _ uint64) (crdt.State, error) {
	t := s.(*crdt.Tree)
	switch o.verb {
	case "add":
		return t.AddNode(o.id, o.parent, ts), nil
	case "move":
		return t.MoveNode(o.id, o.parent, ts), nil
	default:
		return t.RemoveNode(o.id, ts), nil
	}
}
