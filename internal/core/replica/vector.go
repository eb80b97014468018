package replica

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Ordering is the causal relation between two version vectors.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// VersionVector maps a replica to the highest contiguous sequence number
// received from it. Entries only grow.
type VersionVector map[ID]uint64

// Entry is one element of the sorted wire form of a vector.
type Entry struct {
	Replica ID     `json:"replica" msgpack:"r"`
	Seq     uint64 `json:"seq" msgpack:"s"`
}

func NewVersionVector() VersionVector {
	return make(VersionVector)
}

func (v VersionVector) Get(id ID) uint64 {
	return v[id]
}

// Advance raises the entry for id to seq. Lower values are ignored so the
// vector never moves backwards.
func (v VersionVector) Advance(id ID, seq uint64) bool {
	if seq <= v[id] {
		return false
	}
	v[id] = seq
	return true
}

// Merge takes the pointwise maximum.
func (v VersionVector) Merge(other VersionVector) {
	for id, seq := range other {
		v.Advance(id, seq)
	}
}

func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for id, seq := range v {
		out[id] = seq
	}
	return out
}

// Compare returns After when v has seen strictly more than other.
func (v VersionVector) Compare(other VersionVector) Ordering {
	var ahead, behind bool
	for id, seq := range v {
		if seq > other[id] {
			ahead = true
		} else if seq < other[id] {
			behind = true
		}
	}
	for id, seq := range other {
		if _, ok := v[id]; !ok && seq > 0 {
			behind = true
		}
	}
	switch {
	case ahead && behind:
		return Concurrent
	case ahead:
		return After
	case behind:
		return Before
	default:
		return Equal
	}
}

// Dominates reports whether v has seen everything other has.
func (v VersionVector) Dominates(other VersionVector) bool {
	o := v.Compare(other)
	return o == After || o == Equal
}

func (v VersionVector) ConcurrentWith(other VersionVector) bool {
	return v.Compare(other) == Concurrent
}

func (v VersionVector) Equal(other VersionVector) bool {
	return v.Compare(other) == Equal
}

// Covers reports whether the event (id, seq) is included in v.
func (v VersionVector) Covers(id ID, seq uint64) bool {
	return v[id] >= seq
}

// Entries returns the non-zero entries sorted by replica.
func (v VersionVector) Entries() []Entry {
	out := make([]Entry, 0, len(v))
	for id, seq := range v {
		if seq > 0 {
			out = append(out, Entry{Replica: id, Seq: seq})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Replica.Compare(b.Replica) })
	return out
}

func FromEntries(entries []Entry) VersionVector {
	v := make(VersionVector, len(entries))
	for _, e := range entries {
		v.Advance(e.Replica, e.Seq)
	}
	return v
}

func (v VersionVector) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range v.Entries() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Replica.String()[:8])
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(e.Seq, 10))
	}
	b.WriteByte('}')
	return b.String()
}

// The wire form is the sorted entry list, which keeps encodings deterministic.

func (v VersionVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Entries())
}

func (v *VersionVector) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*v = FromEntries(entries)
	return nil
}

var (
	_ msgpack.CustomEncoder = VersionVector(nil)
	_ msgpack.CustomDecoder = (*VersionVector)(nil)
)

func (v VersionVector) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(v.Entries())
}

func (v *VersionVector) DecodeMsgpack(dec *msgpack.Decoder) error {
	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		return err
	}
	*v = FromEntries(entries)
	return nil
}
