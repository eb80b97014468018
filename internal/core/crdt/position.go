package crdt

import (
	"math"
	"strconv"
	"strings"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Segment is one level of a dense position.
type Segment struct {
	Counter uint64     `msgpack:"c"`
	Replica replica.ID `msgpack:"r"`
}

// Segments order by replica first, then counter, so that a run of inserts
// from one replica stays contiguous when merged with concurrent runs.
func (s Segment) Compare(other Segment) int {
	if c := s.Replica.Compare(other.Replica); c != 0 {
		return c
	}
	switch {
	case s.Counter < other.Counter:
		return -1
	case s.Counter > other.Counter:
		return 1
	default:
		return 0
	}
}

// minSegment sorts before every segment any replica can allocate.
var minSegment = Segment{}

// Position is a dense identifier: between any two distinct positions another
// one can always be allocated, so elements never need renumbering.
type Position []Segment

// Compare is lexicographic; a proper prefix sorts first.
func (p Position) Compare(other Position) int {
	for i := 0; i < len(p) && i < len(other); i++ {
		if c := p[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	default:
		return 0
	}
}

func (p Position) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = strconv.FormatUint(s.Counter, 10) + "@" + s.Replica.String()[:8]
	}
	return strings.Join(parts, ".")
}

// Between allocates a position for replica id strictly between left and
// right. A nil left means the start of the sequence and a nil right its end.
func Between(left, right Position, id replica.ID) Position {
	var path Position
	bounded := right != nil
	for depth := 0; ; depth++ {
		l := minSegment
		if depth < len(left) {
			l = left[depth]
		}

		r, open := Segment{}, true
		if bounded && depth < len(right) {
			r, open = right[depth], false
		}

		if s, ok := fit(l, r, open, id); ok {
			return append(path, s)
		}

		path = append(path, l)
		if open || l != r {
			bounded = false
		}
	}
}

// fit tries to place a segment of id after l and before r at one level.
func fit(l, r Segment, open bool, id replica.ID) (Segment, bool) {
	var s Segment
	switch c := l.Replica.Compare(id); {
	case c == 0:
		if l.Counter == math.MaxUint64 {
			return s, false
		}
		s = Segment{Counter: l.Counter + 1, Replica: id}
	case c < 0:
		s = Segment{Counter: 1, Replica: id}
	default:
		return s, false
	}
	if open || s.Compare(r) < 0 {
		return s, true
	}
	return s, false
}
