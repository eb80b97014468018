package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Category classifies what the two concurrent writes did.
type Category uint8

const (
	ConcurrentUpdate Category = iota
	UpdateDelete
)

func (c Category) String() string {
	if c == UpdateDelete {
		return "update_delete"
	}
	return "concurrent_update"
}

// Conflict is a key written concurrently by two replicas.
type Conflict struct {
	ID         string
	Collection string
	Kind       crdt.Kind
	Key        string
	Category   Category
	Local      *crdt.LWWRegister
	Remote     *crdt.LWWRegister
	DetectedAt time.Time
}

func (c Conflict) LocalReplica() replica.ID  { return c.Local.Stamp.Replica }
func (c Conflict) RemoteReplica() replica.ID { return c.Remote.Stamp.Replica }

// ordered returns the two writes ordered by (timestamp, replica).
func (c Conflict) ordered() (first, last *crdt.LWWRegister) {
	merged := c.Local.Clone().(*crdt.LWWRegister)
	merged.Merge(c.Remote)
	if merged.SameWrite(c.Local) {
		return c.Remote, c.Local
	}
	return c.Local, c.Remote
}

// StrategyKind names one of the resolution strategies.
type StrategyKind uint8

const (
	LastWriteWins StrategyKind = iota
	FirstWriteWins
	MergeValues
	UserDecision
	CustomFunction
)

var strategyNames = map[StrategyKind]string{
	LastWriteWins:  "last_write_wins",
	FirstWriteWins: "first_write_wins",
	MergeValues:    "merge_values",
	UserDecision:   "user_decision",
	CustomFunction: "custom_function",
}

func (k StrategyKind) String() string {
	if name, ok := strategyNames[k]; ok {
		return name
	}
	return "unknown"
}

func ParseStrategy(s string) (StrategyKind, error) {
	for k, name := range strategyNames {
		if name == s {
			return k, nil
		}
	}
	if s == "" {
		return LastWriteWins, nil
	}
	return LastWriteWins, fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolution is the outcome for one conflict. A pending resolution leaves
// the merged value in place until someone adjudicates.
type Resolution struct {
	Strategy StrategyKind
	Pending  bool
	Value    []byte
	Deleted  bool
}

// Strategy resolves a conflict. Implementations must be deterministic and
// free of side effects: both replicas resolve the same pair independently.
type Strategy interface {
	Kind() StrategyKind
	Resolve(c Conflict) Resolution
}

// ResolverFunc is a caller supplied resolver for CustomFunction.
type ResolverFunc func(local, remote *crdt.LWWRegister) (value []byte, deleted bool)

// NewStrategy builds the strategy for kind. fn is required for CustomFunction
// and ignored otherwise.
func NewStrategy(kind StrategyKind, fn ResolverFunc) (Strategy, error) {
	switch kind {
	case LastWriteWins:
		return lastWriteWins{}, nil
	case FirstWriteWins:
		return firstWriteWins{}, nil
	case MergeValues:
		return mergeValues{}, nil
	case UserDecision:
		return userDecision{}, nil
	case CustomFunction:
		if fn == nil {
			return nil, ErrMissingResolver
		}
		return customFunction{fn: fn}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, kind)
	}
}

type lastWriteWins struct{}

func (lastWriteWins) Kind() StrategyKind { return LastWriteWins }

func (lastWriteWins) Resolve(c Conflict) Resolution {
	_, last := c.ordered()
	return Resolution{Strategy: LastWriteWins, Value: last.Value, Deleted: last.Deleted}
}

type firstWriteWins struct{}

func (firstWriteWins) Kind() StrategyKind { return FirstWriteWins }

func (firstWriteWins) Resolve(c Conflict) Resolution {
	first, _ := c.ordered()
	return Resolution{Strategy: FirstWriteWins, Value: first.Value, Deleted: first.Deleted}
}

// mergeValues unions JSON arrays and JSON objects. Anything else, and any
// delete, falls back to last write wins.
type mergeValues struct{}

func (mergeValues) Kind() StrategyKind { return MergeValues }

func (mergeValues) Resolve(c Conflict) Resolution {
	first, last := c.ordered()
	res := Resolution{Strategy: MergeValues, Value: last.Value, Deleted: last.Deleted}
	if first.Deleted || last.Deleted {
		return res
	}
	if merged, ok := mergeJSON(first.Value, last.Value); ok {
		res.Value = merged
	}
	return res
}

func mergeJSON(first, last []byte) ([]byte, bool) {
	var fa, la []json.RawMessage
	if json.Unmarshal(first, &fa) == nil && json.Unmarshal(last, &la) == nil {
		return unionArrays(fa, la)
	}
	var fo, lo map[string]json.RawMessage
	if json.Unmarshal(first, &fo) == nil && json.Unmarshal(last, &lo) == nil && fo != nil && lo != nil {
		for k, v := range lo {
			fo[k] = v
		}
		out, err := json.Marshal(fo)
		return out, err == nil
	}
	return nil, false
}

func unionArrays(a, b []json.RawMessage) ([]byte, bool) {
	set := make([][]byte, 0, len(a)+len(b))
	for _, raw := range append(a, b...) {
		compact := new(bytes.Buffer)
		if err := json.Compact(compact, raw); err != nil {
			return nil, false
		}
		set = append(set, compact.Bytes())
	}
	slices.SortFunc(set, bytes.Compare)
	set = slices.CompactFunc(set, bytes.Equal)

	out := []byte{'['}
	for i, v := range set {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, v...)
	}
	return append(out, ']'), true
}

type userDecision struct{}

func (userDecision) Kind() StrategyKind { return UserDecision }

func (userDecision) Resolve(Conflict) Resolution {
	return Resolution{Strategy: UserDecision, Pending: true}
}

type customFunction struct {
	fn ResolverFunc
}

func (customFunction) Kind() StrategyKind { return CustomFunction }

// Resolve calls the resolver with the writes in a fixed order so that both
// replicas see the same arguments.
func (s customFunction) Resolve(c Conflict) Resolution {
	first, last := c.ordered()
	value, deleted := s.fn(first.Clone().(*crdt.LWWRegister), last.Clone().(*crdt.LWWRegister))
	return Resolution{Strategy: CustomFunction, Value: value, Deleted: deleted}
}
