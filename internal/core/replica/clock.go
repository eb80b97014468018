package replica

import (
	"fmt"
	"sync/atomic"
)

// Timestamp is a logical time paired with the replica that issued it. The pair
// is unique and totally ordered: counter first, replica as tie-break.
type Timestamp struct {
	Counter uint64 `json:"counter" msgpack:"c"`
	Replica ID     `json:"replica" msgpack:"r"`
}

func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Counter < other.Counter:
		return -1
	case t.Counter > other.Counter:
		return 1
	default:
		return t.Replica.Compare(other.Replica)
	}
}

func (t Timestamp) Less(other Timestamp) bool {
	return t.Compare(other) < 0
}

func (t Timestamp) IsZero() bool {
	return t.Counter == 0 && t.Replica.IsZero()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Counter, t.Replica)
}

// Clock is a Lamport clock owned by one replica. Successive calls to Now
// return strictly increasing timestamps; Observe folds in remote time so
// that later local writes order after everything seen.
type Clock struct {
	id      ID
	counter atomic.Uint64
}

func NewClock(id ID) *Clock {
	return &Clock{id: id}
}

func (c *Clock) ID() ID {
	return c.id
}

// Now ticks the clock.
func (c *Clock) Now() Timestamp {
	return Timestamp{Counter: c.counter.Add(1), Replica: c.id}
}

// Observe advances the clock to at least remote.
func (c *Clock) Observe(remote uint64) {
	for {
		current := c.counter.Load()
		if remote <= current {
			return
		}
		if c.counter.CompareAndSwap(current, remote) {
			return
		}
	}
}

// Current returns the last issued or observed counter.
func (c *Clock) Current() uint64 {
	return c.counter.Load()
}
