package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

var (
	idR = replica.MustParseID("00000000-0000-0000-0000-0000000000aa")
	idS = replica.MustParseID("00000000-0000-0000-0000-0000000000bb")
)

func mk(origin replica.ID, seq uint64) Delta {
	return Delta{Collection: "c", Kind: crdt.KindGCounter, Origin: origin, Seq: seq}
}

func TestNewDeltaRoundTrip(t *testing.T) {
	counter := crdt.NewGCounter()
	frag := counter.Increment(idR, 4)

	d, err := New("visits", frag, idR, 1, replica.VersionVector{idS: 2})
	require.NoError(t, err)
	assert.Equal(t, crdt.KindGCounter, d.Kind)
	assert.Equal(t, Key{Origin: idR, Seq: 1}, d.Key())

	decoded, err := d.Fragment()
	require.NoError(t, err)
	assert.True(t, frag.Equal(decoded))
}

func TestTrackerOrdering(t *testing.T) {
	tr := NewTracker(8)

	v, err := tr.Offer(mk(idR, 1))
	require.NoError(t, err)
	require.Equal(t, Apply, v)
	tr.Commit(mk(idR, 1))

	t.Run("duplicate", func(t *testing.T) {
		v, err := tr.Offer(mk(idR, 1))
		require.NoError(t, err)
		assert.Equal(t, Duplicate, v)
	})

	t.Run("gap is buffered and released in order", func(t *testing.T) {
		for _, seq := range []uint64{4, 3} {
			v, err := tr.Offer(mk(idR, seq))
			require.NoError(t, err)
			assert.Equal(t, Buffered, v)
		}
		v, _ := tr.Offer(mk(idR, 3))
		assert.Equal(t, Duplicate, v, "already held")
		assert.Equal(t, 2, tr.Held())

		_, ok := tr.Next(idR)
		assert.False(t, ok, "2 is still missing")

		require.Equal(t, Apply, mustOffer(t, tr, mk(idR, 2)))
		tr.Commit(mk(idR, 2))

		var released []uint64
		for d, ok := tr.Next(idR); ok; d, ok = tr.Next(idR) {
			released = append(released, d.Seq)
			tr.Commit(d)
		}
		assert.Equal(t, []uint64{3, 4}, released)
		assert.Equal(t, uint64(4), tr.Applied().Get(idR))
		assert.Zero(t, tr.Held())
	})

	t.Run("origins are independent", func(t *testing.T) {
		assert.Equal(t, Apply, mustOffer(t, tr, mk(idS, 1)))
	})
}

func mustOffer(t *testing.T, tr *Tracker, d Delta) Verdict {
	v, err := tr.Offer(d)
	require.NoError(t, err)
	return v
}

func TestTrackerOverflow(t *testing.T) {
	tr := NewTracker(2)
	mustOffer(t, tr, mk(idR, 5))
	mustOffer(t, tr, mk(idR, 6))

	_, err := tr.Offer(mk(idR, 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBufferOverflow)

	tr.Reset()
	assert.Zero(t, tr.Held())
}

func TestTrackerAdopt(t *testing.T) {
	tr := NewTracker(4)
	mustOffer(t, tr, mk(idR, 3))
	mustOffer(t, tr, mk(idR, 5))

	tr.Adopt(replica.VersionVector{idR: 3})
	_, ok := tr.Next(idR)
	assert.False(t, ok, "3 is covered, 5 still waits for 4")
	assert.Equal(t, 1, tr.Held())
}

func TestLogSince(t *testing.T) {
	l := NewLog(time.Hour, 0)
	for seq := uint64(1); seq <= 3; seq++ {
		require.True(t, l.Append(mk(idR, seq)))
	}
	require.True(t, l.Append(mk(idS, 1)))
	assert.False(t, l.Append(mk(idR, 3)), "duplicate")
	assert.False(t, l.Append(mk(idR, 5)), "gap")

	got, err := l.Since(replica.VersionVector{idR: 1})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []Key{{idR, 2}, {idR, 3}, {idS, 1}}, []Key{got[0].Key(), got[1].Key(), got[2].Key()})
}

func TestLogCompaction(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLog(time.Minute, 3)
	l.now = func() time.Time { return now }

	l.Append(mk(idR, 1))
	l.Append(mk(idR, 2))
	now = now.Add(2 * time.Minute)
	l.Append(mk(idR, 3))
	l.Append(mk(idS, 1))

	dropped := l.Compact()
	assert.ElementsMatch(t, []Key{{idR, 1}, {idR, 2}}, dropped)
	assert.Equal(t, uint64(2), l.Floor().Get(idR))
	assert.Equal(t, 2, l.Len())

	_, err := l.Since(replica.VersionVector{idR: 1})
	assert.ErrorIs(t, err, ErrCompacted)

	got, err := l.Since(replica.VersionVector{idR: 2, idS: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Seq)

	t.Run("size bound", func(t *testing.T) {
		l.limit = 1
		dropped := l.Compact()
		assert.Len(t, dropped, 1)
		assert.Equal(t, 1, l.Len())
	})
}
