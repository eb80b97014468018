package replica

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	idA = MustParseID("00000000-0000-0000-0000-00000000000a")
	idB = MustParseID("00000000-0000-0000-0000-00000000000b")
	idC = MustParseID("00000000-0000-0000-0000-00000000000c")
)

func TestIDOrdering(t *testing.T) {
	assert.Equal(t, -1, idA.Compare(idB))
	assert.Equal(t, 1, idC.Compare(idB))
	assert.Equal(t, 0, idA.Compare(idA))
	assert.True(t, Nil.IsZero())
	assert.False(t, NewID().IsZero())

	_, err := ParseID("not-a-uuid")
	assert.Error(t, err)
}

func TestIDTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[ID]int{idA: 1})
	require.NoError(t, err)

	var out map[ID]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 1, out[idA])
}

func TestTimestampOrder(t *testing.T) {
	t.Run("counter first", func(t *testing.T) {
		assert.True(t, Timestamp{Counter: 10, Replica: idB}.Less(Timestamp{Counter: 20, Replica: idA}))
	})
	t.Run("replica breaks ties", func(t *testing.T) {
		assert.True(t, Timestamp{Counter: 10, Replica: idA}.Less(Timestamp{Counter: 10, Replica: idB}))
	})
}

func TestClockMonotonic(t *testing.T) {
	clock := NewClock(idA)
	first := clock.Now()
	second := clock.Now()
	assert.True(t, first.Less(second))

	clock.Observe(100)
	assert.Equal(t, uint64(101), clock.Now().Counter)

	clock.Observe(5)
	assert.Equal(t, uint64(102), clock.Now().Counter)
}

func TestClockConcurrentTicks(t *testing.T) {
	clock := NewClock(idA)
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, dup := seen.LoadOrStore(clock.Now().Counter, true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), clock.Current())
}

func TestVersionVectorCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b VersionVector
		want Ordering
	}{
		{"empty", VersionVector{}, VersionVector{}, Equal},
		{"zero entries ignored", VersionVector{idA: 0}, VersionVector{}, Equal},
		{"ahead", VersionVector{idA: 2}, VersionVector{idA: 1}, After},
		{"behind", VersionVector{idA: 1}, VersionVector{idA: 1, idB: 1}, Before},
		{"concurrent", VersionVector{idA: 2, idB: 1}, VersionVector{idA: 1, idB: 2}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestVersionVectorMonotonic(t *testing.T) {
	v := NewVersionVector()
	assert.True(t, v.Advance(idA, 3))
	assert.False(t, v.Advance(idA, 2))
	assert.Equal(t, uint64(3), v.Get(idA))

	v.Merge(VersionVector{idA: 1, idB: 4})
	assert.Equal(t, VersionVector{idA: 3, idB: 4}, v)
	assert.True(t, v.Dominates(VersionVector{idB: 4}))
	assert.True(t, v.Covers(idB, 4))
	assert.False(t, v.Covers(idC, 1))

	clone := v.Clone()
	clone.Advance(idC, 1)
	assert.NotContains(t, v, idC)
}

func TestVersionVectorEncoding(t *testing.T) {
	v := VersionVector{idB: 2, idA: 7}

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var out VersionVector
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, v, out)
	})

	t.Run("msgpack", func(t *testing.T) {
		data, err := msgpack.Marshal(v)
		require.NoError(t, err)
		var out VersionVector
		require.NoError(t, msgpack.Unmarshal(data, &out))
		assert.Equal(t, v, out)

		again, err := msgpack.Marshal(out)
		require.NoError(t, err)
		assert.Equal(t, data, again, "encoding is deterministic")
	})
}
