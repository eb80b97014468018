package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPoolResetsLength(t *testing.T) {
	p := NewBufferPool(16, 64)
	buf := p.Get()
	assert.Equal(t, 0, len(*buf))
	assert.GreaterOrEqual(t, cap(*buf), 16)

	*buf = append(*buf, "frame"...)
	p.Put(buf)
	assert.Empty(t, *buf, "recycled buffers are truncated")
}

func TestBufferPoolDropsOversized(t *testing.T) {
	p := NewBufferPool(4, 8)
	big := make([]byte, 0, 128)
	p.Put(&big)
	assert.Len(t, big, 0)
	assert.Equal(t, 128, cap(big), "oversized buffers are left untouched")

	p.Put(nil)
}

func TestPoolRecycleHook(t *testing.T) {
	var seen []int
	p := NewPool(func() int { return 7 }, func(v int) bool {
		seen = append(seen, v)
		return v > 0
	})
	assert.Equal(t, 7, p.Get())
	p.Put(3)
	p.Put(-1)
	assert.Equal(t, []int{3, -1}, seen)
}
