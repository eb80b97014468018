package crdt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

var (
	idA = replica.MustParseID("00000000-0000-0000-0000-00000000000a")
	idB = replica.MustParseID("00000000-0000-0000-0000-00000000000b")
	idC = replica.MustParseID("00000000-0000-0000-0000-00000000000c")
)

var allKinds = []Kind{KindLWWRegister, KindLWWMap, KindGCounter, KindSequence, KindGraph, KindTree}

// sim drives one replica with random local operations.
type sim struct {
	id    replica.ID
	clock *replica.Clock
	state State
	seq   uint64
}

func newSim(t *testing.T, kind Kind, id replica.ID) *sim {
	s, err := New(kind, AddWins)
	require.NoError(t, err)
	return &sim{id: id, clock: replica.NewClock(id), state: s}
}

func (s *sim) step(r *rand.Rand) {
	s.seq++
	ts := s.clock.Now()
	key := fmt.Sprintf("k%d", r.Intn(4))
	val := []byte(fmt.Sprintf("%s-%d", s.id.String()[35:], r.Intn(100)))
	switch st := s.state.(type) {
	case *LWWRegister:
		st.Set(val, ts, s.seq)
	case *LWWMap:
		if r.Intn(4) == 0 {
			st.Delete(key, ts, s.seq)
		} else {
			st.Set(key, val, ts, s.seq)
		}
	case *GCounter:
		st.Increment(s.id, uint64(r.Intn(5)+1))
	case *Sequence:
		if st.Len() > 0 && r.Intn(3) == 0 {
			st.Remove(r.Intn(st.Len()))
		} else {
			st.Insert(r.Intn(st.Len()+1), val, ts)
		}
	case *Graph:
		switch r.Intn(4) {
		case 0:
			st.RemoveVertex(key, ts)
		case 1:
			st.AddEdge(key, fmt.Sprintf("k%d", r.Intn(4)), ts)
		default:
			st.AddVertex(key, ts)
		}
	case *Tree:
		switch r.Intn(3) {
		case 0:
			st.MoveNode(key, fmt.Sprintf("k%d", r.Intn(4)), ts)
		case 1:
			st.RemoveNode(key, ts)
		default:
			st.AddNode(key, fmt.Sprintf("k%d", r.Intn(4)), ts)
		}
	}
}

// exchange merges from other the way a delivered full state would.
func (s *sim) exchange(other *sim) {
	s.clock.Observe(other.state.MaxCounter())
	_ = Merge(s.state, other.state)
}

// randomTriple builds three diverged states with some shared history.
func randomTriple(t *testing.T, kind Kind, seed int64) (State, State, State) {
	r := rand.New(rand.NewSource(seed))
	sims := []*sim{newSim(t, kind, idA), newSim(t, kind, idB), newSim(t, kind, idC)}
	for round := 0; round < 30; round++ {
		sims[r.Intn(3)].step(r)
		if r.Intn(6) == 0 {
			sims[r.Intn(3)].exchange(sims[r.Intn(3)])
		}
	}
	return sims[0].state, sims[1].state, sims[2].state
}

func mustMerge(t *testing.T, a, b State) State {
	out, err := Merged(a, b)
	require.NoError(t, err)
	return out
}

func TestMergeLaws(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			for seed := int64(1); seed <= 25; seed++ {
				a, b, c := randomTriple(t, kind, seed)

				assert.True(t, mustMerge(t, a, b).Equal(mustMerge(t, b, a)), "commutative, seed %d", seed)
				assert.True(t,
					mustMerge(t, mustMerge(t, a, b), c).Equal(mustMerge(t, a, mustMerge(t, b, c))),
					"associative, seed %d", seed)
				assert.True(t, mustMerge(t, a, a).Equal(a), "idempotent, seed %d", seed)
			}
		})
	}
}

func TestConvergenceAnyOrder(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a, b, c := randomTriple(t, kind, 42)
			orders := [][]State{{a, b, c}, {c, b, a}, {b, a, c}, {c, a, b}}

			var first State
			for _, order := range orders {
				acc := order[0].Clone()
				for _, s := range order[1:] {
					require.NoError(t, Merge(acc, s))
				}
				if first == nil {
					first = acc
					continue
				}
				assert.True(t, first.Equal(acc))

				d1, err := Digest(first)
				require.NoError(t, err)
				d2, err := Digest(acc)
				require.NoError(t, err)
				assert.Equal(t, d1, d2)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a, _, _ := randomTriple(t, kind, 7)
			data, err := Encode(a)
			require.NoError(t, err)

			decoded, err := Decode(kind, data)
			require.NoError(t, err)
			assert.True(t, a.Equal(decoded))
		})
	}
}

func TestMergeRejectsOtherKind(t *testing.T) {
	err := Merge(NewGCounter(), NewLWWMap())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIncompatibleType)
	assert.Equal(t, errs.CodeIncompatibleType, errs.Code(err))

	_, err = New(KindUnknown, AddWins)
	assert.ErrorIs(t, err, errs.ErrIncompatibleType)
}

func TestKindNames(t *testing.T) {
	for _, kind := range allKinds {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseKind("or_set")
	assert.Error(t, err)
}
