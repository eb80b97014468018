package replica

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a replica. It is assigned once and never changes; its byte
// order is the tie-break of every LWW comparison.
type ID uuid.UUID

// Nil is the zero ID. It is never assigned to a real replica.
var Nil ID

// NewID returns a random ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical textual form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse replica id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParseID is ParseID for constants in tests and fixtures.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) IsZero() bool {
	return id == Nil
}

// Compare orders IDs by their bytes.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

func (id ID) MarshalBinary() ([]byte, error) {
	return uuid.UUID(id).MarshalBinary()
}

func (id *ID) UnmarshalBinary(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalBinary(data); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}
