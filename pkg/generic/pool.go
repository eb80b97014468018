package generic

import "sync"

// Pool is a typed sync.Pool. The recycle hook prepares a value for reuse and
// may refuse it, leaving it to the garbage collector.
type Pool[T any] struct {
	pool    sync.Pool
	recycle func(T) bool
}

func NewPool[T any](generate func() T, recycle func(T) bool) *Pool[T] {
	return &Pool[T]{
		pool:    sync.Pool{New: func() any { return generate() }},
		recycle: recycle,
	}
}

// NewBufferPool pools byte slices of initial capacity size. Slices that grew
// beyond limit are not kept.
func NewBufferPool(size, limit int) *Pool[*[]byte] {
	return NewPool(
		func() *[]byte {
			buf := make([]byte, 0, size)
			return &buf
		},
		func(buf *[]byte) bool {
			if buf == nil || cap(*buf) > limit {
				return false
			}
			*buf = (*buf)[:0]
			return true
		},
	)
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.recycle != nil && !p.recycle(value) {
		return
	}
	p.pool.Put(value)
}
