package crdt

import "fmt"

// Kind enumerates the closed set of replicated types.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLWWRegister
	KindLWWMap
	KindGCounter
	KindSequence
	KindGraph
	KindTree
)

var kindNames = map[Kind]string{
	KindLWWRegister: "lww_register",
	KindLWWMap:      "lww_map",
	KindGCounter:    "g_counter",
	KindSequence:    "sequence",
	KindGraph:       "graph",
	KindTree:        "tree",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown crdt kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(data []byte) error {
	parsed, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Policy decides a concurrent add and remove of the same element in the set
// based types (graph and tree).
type Policy uint8

const (
	AddWins Policy = iota
	RemoveWins
)

func (p Policy) String() string {
	if p == RemoveWins {
		return "remove_wins"
	}
	return "add_wins"
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "add_wins", "":
		return AddWins, nil
	case "remove_wins":
		return RemoveWins, nil
	default:
		return AddWins, fmt.Errorf("unknown set policy %q", s)
	}
}
