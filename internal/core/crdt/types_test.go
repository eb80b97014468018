package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

func ts(counter uint64, id replica.ID) replica.Timestamp {
	return replica.Timestamp{Counter: counter, Replica: id}
}

func TestRegisterLastWriteWins(t *testing.T) {
	x, y := NewLWWRegister(), NewLWWRegister()
	x.Set([]byte("A"), ts(10, idA), 1)
	y.Set([]byte("B"), ts(20, idB), 1)

	x2 := x.Clone().(*LWWRegister)
	x2.Merge(y)
	y.Merge(x)

	for _, r := range []*LWWRegister{x2, y} {
		v, ok := r.Get()
		require.True(t, ok)
		assert.Equal(t, "B", string(v))
	}
}

func TestRegisterTieBreak(t *testing.T) {
	x, y := NewLWWRegister(), NewLWWRegister()
	x.Set([]byte("from-a"), ts(5, idA), 1)
	y.Set([]byte("from-b"), ts(5, idB), 1)
	x.Merge(y)

	v, _ := x.Get()
	assert.Equal(t, "from-b", string(v), "higher replica id wins equal timestamps")
}

func TestMapTombstones(t *testing.T) {
	m := NewLWWMap()
	m.Set("title", []byte("draft"), ts(1, idA), 1)
	m.Delete("title", ts(2, idA), 2)

	_, ok := m.Get("title")
	assert.False(t, ok)
	entry, ok := m.Entry("title")
	require.True(t, ok, "tombstone is retained")
	assert.True(t, entry.Deleted)

	t.Run("stale write loses to delete", func(t *testing.T) {
		other := NewLWWMap()
		other.Set("title", []byte("stale"), ts(1, idB), 1)
		m.Merge(other)
		_, ok := m.Get("title")
		assert.False(t, ok)
	})

	t.Run("later write resurrects", func(t *testing.T) {
		other := NewLWWMap()
		other.Set("title", []byte("final"), ts(3, idB), 1)
		m.Merge(other)
		v, ok := m.Get("title")
		require.True(t, ok)
		assert.Equal(t, "final", string(v))
	})

	assert.Equal(t, []string{"title"}, m.Live())
}

func TestCounterScenario(t *testing.T) {
	x, y := NewGCounter(), NewGCounter()
	x.Increment(idA, 3)
	y.Increment(idB, 5)

	before := x.Value()
	x.Merge(y)
	y.Merge(x)

	assert.Equal(t, uint64(8), x.Value())
	assert.Equal(t, uint64(8), y.Value())
	assert.GreaterOrEqual(t, x.Value(), before)

	stale := NewGCounter()
	stale.Counts[idA] = 1
	x.Merge(stale)
	assert.Equal(t, uint64(8), x.Value(), "merging an older contribution never decreases")
}

func TestSequenceConcurrentAppend(t *testing.T) {
	a, b := NewSequence(), NewSequence()
	clockA, clockB := replica.NewClock(idA), replica.NewClock(idB)

	a.Append([]byte("H"), clockA.Now())
	a.Append([]byte("i"), clockA.Now())
	b.Append([]byte("!"), clockB.Now())

	a2 := a.Clone().(*Sequence)
	a2.Merge(b)
	b.Merge(a)

	assert.Equal(t, "Hi!", a2.String())
	assert.Equal(t, "Hi!", b.String())
	assert.True(t, a2.Equal(b))
}

func TestSequenceInsertRemove(t *testing.T) {
	q := NewSequence()
	clock := replica.NewClock(idA)
	for _, r := range "acd" {
		q.Append([]byte(string(r)), clock.Now())
	}
	before := q.Elements()

	q.Insert(1, []byte("b"), clock.Now())
	assert.Equal(t, "abcd", q.String())

	after := q.Elements()
	for _, e := range before {
		assert.True(t, containsPos(after, e.Pos), "existing positions are never renumbered")
	}

	frag, ok := q.Remove(0)
	require.True(t, ok)
	assert.Equal(t, "bcd", q.String())
	assert.Len(t, q.Elements(), 4, "removed element stays as tombstone")

	_, ok = q.Remove(10)
	assert.False(t, ok)

	// a removal can not be undone by merging an older copy
	old := NewSequence()
	old.Merge(&Sequence{elems: []*Element{{Pos: frag.elems[0].Pos, Value: []byte("a")}}})
	q.Merge(old)
	assert.Equal(t, "bcd", q.String())

	q.Insert(0, []byte("x"), clock.Now())
	assert.Equal(t, "xbcd", q.String())
}

func containsPos(elems []Element, p Position) bool {
	for _, e := range elems {
		if e.Pos.Compare(p) == 0 {
			return true
		}
	}
	return false
}

func TestBetweenIsDense(t *testing.T) {
	left := Between(nil, nil, idA)
	right := Between(left, nil, idA)
	for i := 0; i < 50; i++ {
		id := idA
		if i%2 == 1 {
			id = idB
		}
		mid := Between(left, right, id)
		require.Equal(t, -1, left.Compare(mid), "iteration %d", i)
		require.Equal(t, -1, mid.Compare(right), "iteration %d", i)
		if i%3 == 0 {
			left = mid
		} else {
			right = mid
		}
	}

	front := Between(nil, left, idC)
	assert.Equal(t, -1, front.Compare(left))
}

func TestGraphAddWins(t *testing.T) {
	a, b := NewGraph(AddWins), NewGraph(AddWins)
	clockA, clockB := replica.NewClock(idA), replica.NewClock(idB)

	base := a.AddVertex("v", clockA.Now())
	b.Merge(base)
	clockB.Observe(base.MaxCounter())

	a.AddVertex("v", clockA.Now())
	b.RemoveVertex("v", clockB.Now())

	a2 := a.Clone().(*Graph)
	a2.Merge(b)
	b.Merge(a)

	assert.True(t, a2.HasVertex("v"))
	assert.True(t, b.HasVertex("v"))
}

func TestGraphRemoveWins(t *testing.T) {
	a, b := NewGraph(RemoveWins), NewGraph(RemoveWins)
	clockA, clockB := replica.NewClock(idA), replica.NewClock(idB)

	base := a.AddVertex("v", clockA.Now())
	b.Merge(base)

	a.AddVertex("v", clockA.Now())
	b.RemoveVertex("v", clockB.Now())
	a.Merge(b)
	assert.False(t, a.HasVertex("v"), "concurrent remove wins")

	a.AddVertex("v", clockA.Now())
	assert.True(t, a.HasVertex("v"), "an add after the remove restores the vertex")
}

func TestGraphSequentialRemove(t *testing.T) {
	g := NewGraph(AddWins)
	clock := replica.NewClock(idA)
	g.AddVertex("a", clock.Now())
	g.AddVertex("b", clock.Now())
	g.AddEdge("a", "b", clock.Now())
	assert.Equal(t, []Edge{{From: "a", To: "b"}}, g.Edges())
	assert.Equal(t, []string{"b"}, g.Neighbors("a"))

	g.RemoveVertex("b", clock.Now())
	assert.False(t, g.HasVertex("b"))
	assert.False(t, g.HasEdge("a", "b"), "edges hide with their endpoints")
	assert.Equal(t, []string{"a"}, g.Vertices())
}

func TestTreeCycleSkipped(t *testing.T) {
	a, b := NewTree(AddWins), NewTree(AddWins)
	clockA, clockB := replica.NewClock(idA), replica.NewClock(idB)

	for _, n := range []string{"x", "y"} {
		frag := a.AddNode(n, "", clockA.Now())
		b.Merge(frag)
	}
	clockB.Observe(clockA.Current())

	// concurrent moves that would form x -> y -> x
	a.MoveNode("x", "y", clockA.Now())
	b.MoveNode("y", "x", clockB.Now())

	a.Merge(b)
	b.Merge(a)
	require.True(t, a.Equal(b))

	px, _ := a.Parent("x")
	py, _ := a.Parent("y")
	assert.False(t, px == "y" && py == "x", "no cycle after merge")
	assert.Len(t, a.Roots(), 1)
	for _, n := range []string{"x", "y"} {
		pa, _ := a.Parent(n)
		pb, _ := b.Parent(n)
		assert.Equal(t, pa, pb)
	}
}

func TestTreeQueries(t *testing.T) {
	tree := NewTree(AddWins)
	clock := replica.NewClock(idA)
	tree.AddNode("root", "", clock.Now())
	tree.AddNode("docs", "root", clock.Now())
	tree.AddNode("readme", "docs", clock.Now())

	assert.Equal(t, []string{"root", "docs", "readme"}, tree.Path("readme"))
	assert.Equal(t, []string{"docs"}, tree.Children("root"))

	tree.MoveNode("readme", "root", clock.Now())
	assert.ElementsMatch(t, []string{"docs", "readme"}, tree.Children("root"))

	tree.RemoveNode("root", clock.Now())
	assert.ElementsMatch(t, []string{"docs", "readme"}, tree.Roots(), "orphans surface at the top level")
	_, ok := tree.Parent("root")
	assert.False(t, ok)
}

func TestTreeConcurrentReads(t *testing.T) {
	tree := NewTree(AddWins)
	clock := replica.NewClock(idA)
	tree.AddNode("root", "", clock.Now())
	tree.AddNode("docs", "root", clock.Now())
	tree.AddNode("readme", "docs", clock.Now())
	tree.MoveNode("readme", "root", clock.Now())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				assert.Equal(t, []string{"root", "readme"}, tree.Path("readme"))
				assert.ElementsMatch(t, []string{"docs", "readme"}, tree.Children("root"))
				assert.Equal(t, []string{"root"}, tree.Roots())
			}
		}()
	}
	wg.Wait()

	clone := tree.Clone().(*Tree)
	clone.MoveNode("docs", "readme", clock.Now())
	p, _ := tree.Parent("docs")
	assert.Equal(t, "root", p)
	p, _ = clone.Parent("docs")
	assert.Equal(t, "readme", p)
}

func TestDivergences(t *testing.T) {
	local := NewLWWMap()
	local.Set("k", []byte("mine"), ts(3, idA), 1)
	local.Set("other", []byte("x"), ts(4, idA), 2)

	remote := NewLWWMap()
	frag := remote.Set("k", []byte("theirs"), ts(2, idB), 1)

	t.Run("concurrent", func(t *testing.T) {
		d := Divergences(local, frag, replica.VersionVector{}, replica.VersionVector{idA: 2})
		require.Len(t, d, 1)
		assert.Equal(t, "k", d[0].Key)
		assert.Equal(t, "mine", string(d[0].Local.Value))
		assert.Equal(t, "theirs", string(d[0].Remote.Value))
	})

	t.Run("origin had seen the local write", func(t *testing.T) {
		assert.Empty(t, Divergences(local, frag, replica.VersionVector{idA: 1}, nil))
	})

	t.Run("local had seen the incoming write", func(t *testing.T) {
		assert.Empty(t, Divergences(local, frag, replica.VersionVector{}, replica.VersionVector{idA: 2, idB: 1}))
	})

	t.Run("counters never diverge", func(t *testing.T) {
		assert.Empty(t, Divergences(NewGCounter(), NewGCounter(), nil, nil))
	})
}
