package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/crdtsync/internal/core/errs"
)

// Codec turns messages into frames and back. Decode validates what it reads.
type Codec interface {
	Name() string
	Encode(m *Message) ([]byte, error)
	Decode(frame []byte) (*Message, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// NewCodec returns the codec registered under name. An empty name selects msgpack.
func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecMsgpack, "":
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (JSONCodec) Decode(frame []byte) (*Message, error) {
	// Peek at the type first so an unknown type reports as such rather than
	// as a body mismatch.
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, errs.New(errs.CodeProtocolViolation, "malformed json frame", err)
	}
	if head.Type == "" {
		return nil, violation("frame without type")
	}

	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, errs.New(errs.CodeProtocolViolation, "malformed json frame", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Encode(m *Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	return msgpack.Marshal(m)
}

func (MsgpackCodec) Decode(frame []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(frame, &m); err != nil {
		return nil, errs.New(errs.CodeProtocolViolation, "malformed msgpack frame", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
