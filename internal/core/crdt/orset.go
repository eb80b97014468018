package crdt

import (
	"maps"
	"slices"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Dot is one add or remove operation on an element. Context is what the
// issuing replica had seen of the set when it issued the operation.
type Dot struct {
	Stamp   replica.Timestamp     `msgpack:"t"`
	Context replica.VersionVector `msgpack:"c"`
}

func (d Dot) observed(other Dot) bool {
	return d.Context.Covers(other.Stamp.Replica, other.Stamp.Counter)
}

func (d Dot) clone() Dot {
	return Dot{Stamp: d.Stamp, Context: d.Context.Clone()}
}

// orSet is an observed-remove set of string ids. Removes are recorded as
// dots in a tombstone set; both sets only grow.
type orSet struct {
	adds    map[string][]Dot
	removes map[string][]Dot
	seen    replica.VersionVector
}

func newORSet() *orSet {
	return &orSet{
		adds:    make(map[string][]Dot),
		removes: make(map[string][]Dot),
		seen:    replica.NewVersionVector(),
	}
}

// add records an add of id at ts and returns the fragment set.
func (s *orSet) add(id string, ts replica.Timestamp) *orSet {
	d := s.issue(ts)
	s.adds[id] = insertDot(s.adds[id], d)
	frag := newORSet()
	frag.adds[id] = []Dot{d.clone()}
	frag.seen.Advance(ts.Replica, ts.Counter)
	return frag
}

func (s *orSet) remove(id string, ts replica.Timestamp) *orSet {
	d := s.issue(ts)
	s.removes[id] = insertDot(s.removes[id], d)
	frag := newORSet()
	frag.removes[id] = []Dot{d.clone()}
	frag.seen.Advance(ts.Replica, ts.Counter)
	return frag
}

func (s *orSet) issue(ts replica.Timestamp) Dot {
	d := Dot{Stamp: ts, Context: s.seen.Clone()}
	s.seen.Advance(ts.Replica, ts.Counter)
	return d
}

// live decides membership under policy.
//
// Add-wins: some add was not observed by any remove.
// Remove-wins: some add observed every remove.
func (s *orSet) live(id string, policy Policy) bool {
	removes := s.removes[id]
	for _, a := range s.adds[id] {
		if policy == AddWins && !slices.ContainsFunc(removes, func(r Dot) bool { return r.observed(a) }) {
			return true
		}
		if policy == RemoveWins && !slices.ContainsFunc(removes, func(r Dot) bool { return !a.observed(r) }) {
			return true
		}
	}
	return false
}

func (s *orSet) members(policy Policy) []string {
	out := make([]string, 0, len(s.adds))
	for id := range s.adds {
		if s.live(id, policy) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (s *orSet) known(id string) bool {
	return len(s.adds[id]) > 0 || len(s.removes[id]) > 0
}

func (s *orSet) merge(other *orSet) {
	for id, dots := range other.adds {
		for _, d := range dots {
			s.adds[id] = insertDot(s.adds[id], d.clone())
		}
	}
	for id, dots := range other.removes {
		for _, d := range dots {
			s.removes[id] = insertDot(s.removes[id], d.clone())
		}
	}
	s.seen.Merge(other.seen)
}

// insertDot keeps dots sorted by stamp and unique.
func insertDot(dots []Dot, d Dot) []Dot {
	i, found := slices.BinarySearchFunc(dots, d, func(a, b Dot) int { return a.Stamp.Compare(b.Stamp) })
	if found {
		return dots
	}
	return slices.Insert(dots, i, d)
}

func (s *orSet) clone() *orSet {
	out := newORSet()
	out.merge(s)
	return out
}

func (s *orSet) equal(other *orSet) bool {
	return dotsEqual(s.adds, other.adds) && dotsEqual(s.removes, other.removes)
}

func dotsEqual(a, b map[string][]Dot) bool {
	if len(a) != len(b) {
		return false
	}
	for id, da := range a {
		db, ok := b[id]
		if !ok || len(da) != len(db) {
			return false
		}
		for i := range da {
			if da[i].Stamp != db[i].Stamp || !da[i].Context.Equal(db[i].Context) {
				return false
			}
		}
	}
	return true
}

func (s *orSet) ids() []string {
	set := make(map[string]struct{}, len(s.adds)+len(s.removes))
	for id := range s.adds {
		set[id] = struct{}{}
	}
	for id := range s.removes {
		set[id] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func (s *orSet) maxCounter() uint64 {
	var out uint64
	for _, e := range s.seen.Entries() {
		out = max(out, e.Seq)
	}
	return out
}

type orSetEntryWire struct {
	ID      string `msgpack:"i"`
	Adds    []Dot  `msgpack:"a,omitempty"`
	Removes []Dot  `msgpack:"r,omitempty"`
}

type orSetWire struct {
	Entries []orSetEntryWire      `msgpack:"e"`
	Seen    replica.VersionVector `msgpack:"s"`
}

func (s *orSet) wire() orSetWire {
	out := orSetWire{Seen: s.seen}
	for _, id := range s.ids() {
		out.Entries = append(out.Entries, orSetEntryWire{ID: id, Adds: s.adds[id], Removes: s.removes[id]})
	}
	return out
}

func (w orSetWire) set() *orSet {
	s := newORSet()
	for _, e := range w.Entries {
		for _, d := range e.Adds {
			s.adds[e.ID] = insertDot(s.adds[e.ID], d)
		}
		for _, d := range e.Removes {
			s.removes[e.ID] = insertDot(s.removes[e.ID], d)
		}
	}
	if w.Seen != nil {
		s.seen = w.Seen
	}
	return s
}
