package delta

import (
	"sync"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/pkg/sequence"
)

// Verdict says what to do with an offered delta.
type Verdict uint8

const (
	// Apply means the delta is the next one expected from its origin.
	Apply Verdict = iota
	// Duplicate means it was applied before and must be dropped.
	Duplicate
	// Buffered means it arrived ahead of a gap and is held back.
	Buffered
)

func (v Verdict) String() string {
	switch v {
	case Apply:
		return "apply"
	case Duplicate:
		return "duplicate"
	default:
		return "buffered"
	}
}

// Tracker enforces exactly-once, in-order application per origin. The
// applied vector only counts contiguous sequence numbers.
type Tracker struct {
	mu       sync.Mutex
	applied  replica.VersionVector
	buffers  map[replica.ID]*sequence.PriorityQueue[Delta]
	held     map[Key]struct{}
	capacity int
}

func NewTracker(capacity int) *Tracker {
	return &Tracker{
		applied:  replica.NewVersionVector(),
		buffers:  make(map[replica.ID]*sequence.PriorityQueue[Delta]),
		held:     make(map[Key]struct{}),
		capacity: capacity,
	}
}

// Offer classifies d. When the reorder buffer is full the delta is refused
// with errs.ErrBufferOverflow.
func (t *Tracker) Offer(d Delta) (Verdict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	have := t.applied.Get(d.Origin)
	switch {
	case d.Seq <= have:
		return Duplicate, nil
	case d.Seq == have+1:
		return Apply, nil
	}

	if _, ok := t.held[d.Key()]; ok {
		return Duplicate, nil
	}
	if t.capacity > 0 && len(t.held) >= t.capacity {
		return Buffered, errs.New(errs.CodeBufferOverflow, "hold "+d.Key().String(), errs.ErrBufferOverflow)
	}
	q, ok := t.buffers[d.Origin]
	if !ok {
		q = sequence.NewPriorityQueue(func(a, b Delta) bool { return a.Seq < b.Seq })
		t.buffers[d.Origin] = q
	}
	q.Enqueue(d)
	t.held[d.Key()] = struct{}{}
	return Buffered, nil
}

// Commit records d as applied.
func (t *Tracker) Commit(d Delta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied.Advance(d.Origin, d.Seq)
}

// Next releases the held delta of origin that is now in order, if any.
func (t *Tracker) Next(origin replica.ID) (Delta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.buffers[origin]
	if !ok {
		return Delta{}, false
	}
	have := t.applied.Get(origin)
	for _, stale := range q.PopWhile(func(d Delta) bool { return d.Seq <= have }) {
		delete(t.held, stale.Key())
	}
	head, ok := q.Peek()
	if !ok {
		delete(t.buffers, origin)
		return Delta{}, false
	}
	if head.Seq != have+1 {
		return Delta{}, false
	}
	q.Dequeue()
	delete(t.held, head.Key())
	return head, true
}

// Origins lists origins that currently have held deltas.
func (t *Tracker) Origins() []replica.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]replica.ID, 0, len(t.buffers))
	for id := range t.buffers {
		out = append(out, id)
	}
	return out
}

// Applied returns a copy of the applied vector.
func (t *Tracker) Applied() replica.VersionVector {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applied.Clone()
}

// Adopt raises the applied vector after a full state merge. Held deltas it
// now covers become duplicates and are released by Next.
func (t *Tracker) Adopt(vv replica.VersionVector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied.Merge(vv)
}

// Held counts buffered deltas.
func (t *Tracker) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

// Reset drops the reorder buffer.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffers = make(map[replica.ID]*sequence.PriorityQueue[Delta])
	t.held = make(map[Key]struct{})
}
