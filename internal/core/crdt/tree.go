package crdt

import (
	"slices"
	"sync"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*Tree)(nil)

// Move assigns Parent to a node. An empty Parent places the node at the root.
type Move struct {
	Node   string            `msgpack:"n"`
	Parent string            `msgpack:"p"`
	Stamp  replica.Timestamp `msgpack:"t"`
}

// Tree is a graph specialisation: node membership is an observed-remove set
// and every node's parent is the latest move that does not close a cycle.
// Moves are never rejected; cycles are skipped when the tree is resolved.
type Tree struct {
	Policy Policy
	nodes  *orSet
	moves  []Move // sorted by Stamp

	// resolved parents, nil when stale. Queries fill it under mu so that
	// concurrent readers of one state never race.
	mu      sync.Mutex
	parents map[string]string
}

func NewTree(policy Policy) *Tree {
	return &Tree{Policy: policy, nodes: newORSet()}
}

func (t *Tree) Kind() Kind { return KindTree }

// AddNode adds id under parent.
func (t *Tree) AddNode(id, parent string, ts replica.Timestamp) *Tree {
	frag := &Tree{Policy: t.Policy, nodes: t.nodes.add(id, ts)}
	m := Move{Node: id, Parent: parent, Stamp: ts}
	t.insertMove(m)
	frag.moves = []Move{m}
	return frag
}

// MoveNode reparents id.
func (t *Tree) MoveNode(id, parent string, ts replica.Timestamp) *Tree {
	m := Move{Node: id, Parent: parent, Stamp: ts}
	t.insertMove(m)
	return &Tree{Policy: t.Policy, nodes: newORSet(), moves: []Move{m}}
}

func (t *Tree) RemoveNode(id string, ts replica.Timestamp) *Tree {
	frag := &Tree{Policy: t.Policy, nodes: t.nodes.remove(id, ts)}
	t.invalidate()
	return frag
}

func (t *Tree) insertMove(m Move) {
	i, found := slices.BinarySearchFunc(t.moves, m, func(a, b Move) int { return a.Stamp.Compare(b.Stamp) })
	if found {
		return
	}
	t.moves = slices.Insert(t.moves, i, m)
	t.invalidate()
}

func (t *Tree) invalidate() {
	t.mu.Lock()
	t.parents = nil
	t.mu.Unlock()
}

// resolve replays every move in stamp order, skipping a move whose new
// parent is the node itself or one of its descendants at that point. The
// returned map is never modified afterwards.
func (t *Tree) resolve() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parents != nil {
		return t.parents
	}
	parents := make(map[string]string)
	for _, m := range t.moves {
		if m.Parent != "" && createsCycle(parents, m.Node, m.Parent) {
			continue
		}
		parents[m.Node] = m.Parent
	}
	t.parents = parents
	return parents
}

func createsCycle(parents map[string]string, node, parent string) bool {
	seen := make(map[string]struct{})
	for cur := parent; cur != ""; cur = parents[cur] {
		if cur == node {
			return true
		}
		if _, loop := seen[cur]; loop {
			return true
		}
		seen[cur] = struct{}{}
	}
	return false
}

func (t *Tree) Contains(id string) bool {
	return t.nodes.live(id, t.Policy)
}

// Parent returns the effective parent of a live node. A node whose parent is
// not live reports the root ("").
func (t *Tree) Parent(id string) (string, bool) {
	if !t.Contains(id) {
		return "", false
	}
	p := t.resolve()[id]
	if p != "" && !t.Contains(p) {
		return "", true
	}
	return p, true
}

// Children lists the live nodes whose effective parent is id, sorted.
// Pass "" for the top level.
func (t *Tree) Children(id string) []string {
	var out []string
	for _, n := range t.Nodes() {
		if p, _ := t.Parent(n); p == id {
			out = append(out, n)
		}
	}
	return out
}

func (t *Tree) Roots() []string {
	return t.Children("")
}

// Nodes returns every live node, sorted.
func (t *Tree) Nodes() []string {
	return t.nodes.members(t.Policy)
}

// Path returns the ancestors of id from the top level down, ending with id.
func (t *Tree) Path(id string) []string {
	if !t.Contains(id) {
		return nil
	}
	path := []string{id}
	for cur, _ := t.Parent(id); cur != ""; cur, _ = t.Parent(cur) {
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

func (t *Tree) Merge(other *Tree) {
	t.nodes.merge(other.nodes)
	for _, m := range other.moves {
		t.insertMove(m)
	}
	t.invalidate()
}

func (t *Tree) Clone() State {
	return &Tree{Policy: t.Policy, nodes: t.nodes.clone(), moves: slices.Clone(t.moves)}
}

func (t *Tree) Equal(other State) bool {
	o, ok := other.(*Tree)
	return ok && t.nodes.equal(o.nodes) && slices.Equal(t.moves, o.moves)
}

func (t *Tree) Keys() []string {
	set := make(map[string]struct{})
	for _, id := range t.nodes.ids() {
		set[id] = struct{}{}
	}
	for _, m := range t.moves {
		set[m.Node] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *Tree) MaxCounter() uint64 {
	out := t.nodes.maxCounter()
	if n := len(t.moves); n > 0 {
		out = max(out, t.moves[n-1].Stamp.Counter)
	}
	return out
}

type treeWire struct {
	Policy Policy    `msgpack:"p"`
	Nodes  orSetWire `msgpack:"n"`
	Moves  []Move    `msgpack:"m"`
}

func (t *Tree) wire() any {
	return treeWire{Policy: t.Policy, Nodes: t.nodes.wire(), Moves: t.moves}
}
