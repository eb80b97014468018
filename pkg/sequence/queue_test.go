package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := NewPriorityQueue(func(a, b uint64) bool { return a < b })
	for _, v := range []uint64{7, 3, 9, 4} {
		pq.Enqueue(v)
	}

	head, ok := pq.Peek()
	require.True(t, ok)
	assert.Equal(t, uint64(3), head)
	assert.Equal(t, []uint64{3, 4, 7, 9}, pq.Drain())
	assert.True(t, pq.IsEmpty())

	_, ok = pq.Dequeue()
	assert.False(t, ok)
}

func TestPopWhile(t *testing.T) {
	pq := NewPriorityQueue(func(a, b uint64) bool { return a < b })
	for _, v := range []uint64{5, 2, 3, 9, 1} {
		pq.Enqueue(v)
	}

	next := uint64(1)
	run := pq.PopWhile(func(v uint64) bool {
		if v != next {
			return false
		}
		next++
		return true
	})
	assert.Equal(t, []uint64{1, 2, 3}, run)
	assert.Equal(t, 2, pq.Len())

	head, _ := pq.Peek()
	assert.Equal(t, uint64(5), head)
}

func TestPriorityQueueManyElements(t *testing.T) {
	pq := NewPriorityQueue(func(a, b int) bool { return a > b })
	for i := 0; i < 100; i++ {
		pq.Enqueue((i * 37) % 100)
	}
	out := pq.Drain()
	require.Len(t, out, 100)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1], out[i])
	}
}
