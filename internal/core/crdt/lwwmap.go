package crdt

import (
	"maps"
	"slices"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*LWWMap)(nil)

// LWWMap is a map of independent registers. Deleted keys keep a tombstone
// register so that a stale write cannot resurrect them.
type LWWMap struct {
	Entries map[string]*LWWRegister
}

func NewLWWMap() *LWWMap {
	return &LWWMap{Entries: make(map[string]*LWWRegister)}
}

func (m *LWWMap) Kind() Kind { return KindLWWMap }

func (m *LWWMap) Get(key string) ([]byte, bool) {
	r, ok := m.Entries[key]
	if !ok {
		return nil, false
	}
	return r.Get()
}

// Entry returns the raw register including tombstones.
func (m *LWWMap) Entry(key string) (*LWWRegister, bool) {
	r, ok := m.Entries[key]
	return r, ok
}

func (m *LWWMap) Set(key string, value []byte, ts replica.Timestamp, seq uint64) *LWWMap {
	return m.write(key, (&LWWRegister{}).Set(value, ts, seq))
}

func (m *LWWMap) Delete(key string, ts replica.Timestamp, seq uint64) *LWWMap {
	return m.write(key, (&LWWRegister{}).Clear(ts, seq))
}

func (m *LWWMap) write(key string, w *LWWRegister) *LWWMap {
	m.mergeEntry(key, w)
	return &LWWMap{Entries: map[string]*LWWRegister{key: w}}
}

// Live returns the sorted keys that currently hold a value.
func (m *LWWMap) Live() []string {
	out := make([]string, 0, len(m.Entries))
	for k, r := range m.Entries {
		if !r.Deleted {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func (m *LWWMap) Len() int {
	return len(m.Live())
}

func (m *LWWMap) Merge(other *LWWMap) {
	for k, r := range other.Entries {
		m.mergeEntry(k, r)
	}
}

func (m *LWWMap) mergeEntry(key string, r *LWWRegister) {
	if cur, ok := m.Entries[key]; ok {
		cur.Merge(r)
		return
	}
	m.Entries[key] = r.clone()
}

func (m *LWWMap) Clone() State {
	out := NewLWWMap()
	for k, r := range m.Entries {
		out.Entries[k] = r.clone()
	}
	return out
}

func (m *LWWMap) Equal(other State) bool {
	o, ok := other.(*LWWMap)
	if !ok || len(m.Entries) != len(o.Entries) {
		return false
	}
	for k, r := range m.Entries {
		or, ok := o.Entries[k]
		if !ok || !r.SameWrite(or) {
			return false
		}
	}
	return true
}

func (m *LWWMap) Keys() []string {
	return slices.Sorted(maps.Keys(m.Entries))
}

func (m *LWWMap) MaxCounter() uint64 {
	var out uint64
	for _, r := range m.Entries {
		out = max(out, r.Stamp.Counter)
	}
	return out
}

type mapEntryWire struct {
	Key      string       `msgpack:"k"`
	Register *LWWRegister `msgpack:"r"`
}

func (m *LWWMap) wire() any {
	out := make([]mapEntryWire, 0, len(m.Entries))
	for _, k := range m.Keys() {
		out = append(out, mapEntryWire{Key: k, Register: m.Entries[k]})
	}
	return out
}
