package crdt

import (
	"slices"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*GCounter)(nil)

// GCounter is a grow-only counter: one non-decreasing contribution per
// replica, summed on read.
type GCounter struct {
	Counts map[replica.ID]uint64
}

func NewGCounter() *GCounter {
	return &GCounter{Counts: make(map[replica.ID]uint64)}
}

func (c *GCounter) Kind() Kind { return KindGCounter }

// Increment adds n to the contribution of id and returns the fragment
// carrying the new contribution.
func (c *GCounter) Increment(id replica.ID, n uint64) *GCounter {
	c.Counts[id] += n
	return &GCounter{Counts: map[replica.ID]uint64{id: c.Counts[id]}}
}

func (c *GCounter) Value() uint64 {
	var total uint64
	for _, n := range c.Counts {
		total += n
	}
	return total
}

// Contribution returns the share of a single replica.
func (c *GCounter) Contribution(id replica.ID) uint64 {
	return c.Counts[id]
}

func (c *GCounter) Merge(other *GCounter) {
	for id, n := range other.Counts {
		if n > c.Counts[id] {
			c.Counts[id] = n
		}
	}
}

func (c *GCounter) Clone() State {
	out := NewGCounter()
	for id, n := range c.Counts {
		out.Counts[id] = n
	}
	return out
}

func (c *GCounter) Equal(other State) bool {
	o, ok := other.(*GCounter)
	if !ok {
		return false
	}
	return replica.VersionVector(c.Counts).Equal(o.Counts)
}

func (c *GCounter) Keys() []string {
	out := make([]string, 0, len(c.Counts))
	for id := range c.Counts {
		out = append(out, id.String())
	}
	slices.Sort(out)
	return out
}

// MaxCounter is zero: counter contributions carry no logical time.
func (c *GCounter) MaxCounter() uint64 { return 0 }

func (c *GCounter) wire() any {
	return replica.VersionVector(c.Counts).Entries()
}
