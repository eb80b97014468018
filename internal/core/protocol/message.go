package protocol

import (
	"time"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

// Version is the protocol version this build speaks.
const Version uint16 = 1

// MessageType routes a message to its handler.
type MessageType string

const (
	TypeDelta         MessageType = "delta"
	TypeHeartbeat     MessageType = "heartbeat"
	TypePeerJoin      MessageType = "peer_join"
	TypePeerLeave     MessageType = "peer_leave"
	TypeSyncRequest   MessageType = "sync_request"
	TypeSyncResponse  MessageType = "sync_response"
	TypeFullState     MessageType = "full_state"
	TypeResyncRequest MessageType = "resync_request"
)

// Message is the envelope exchanged between peers. Exactly one body matching
// Type is set.
type Message struct {
	Type            MessageType `json:"type" msgpack:"type"`
	ProtocolVersion uint16      `json:"protocol_version" msgpack:"protocol_version"`
	Timestamp       int64       `json:"timestamp" msgpack:"timestamp"`
	ReplicaID       replica.ID  `json:"replica_id" msgpack:"replica_id"`

	Delta         *delta.Delta   `json:"delta,omitempty" msgpack:"delta,omitempty"`
	Heartbeat     *Heartbeat     `json:"heartbeat,omitempty" msgpack:"heartbeat,omitempty"`
	PeerJoin      *PeerJoin      `json:"peer_join,omitempty" msgpack:"peer_join,omitempty"`
	PeerLeave     *PeerLeave     `json:"peer_leave,omitempty" msgpack:"peer_leave,omitempty"`
	SyncRequest   *SyncRequest   `json:"sync_request,omitempty" msgpack:"sync_request,omitempty"`
	SyncResponse  *SyncResponse  `json:"sync_response,omitempty" msgpack:"sync_response,omitempty"`
	FullState     *FullState     `json:"full_state,omitempty" msgpack:"full_state,omitempty"`
	ResyncRequest *ResyncRequest `json:"resync_request,omitempty" msgpack:"resync_request,omitempty"`
}

// CollectionStats summarises one collection in a heartbeat.
type CollectionStats struct {
	Vector replica.VersionVector `json:"vector" msgpack:"vector"`
	Digest uint64                `json:"digest" msgpack:"digest"`
}

type Stats struct {
	Collections map[string]CollectionStats `json:"collections,omitempty" msgpack:"collections,omitempty"`
	Pending     int                        `json:"pending" msgpack:"pending"`
}

type Heartbeat struct {
	Stats Stats `json:"stats" msgpack:"stats"`
}

// PeerJoin announces a peer. Credential is opaque to the engine.
type PeerJoin struct {
	UserInfo   map[string]string `json:"user_info,omitempty" msgpack:"user_info,omitempty"`
	Credential string            `json:"credential,omitempty" msgpack:"credential,omitempty"`
}

type PeerLeave struct {
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// SyncRequest asks the peer for every delta of a collection not covered by
// Vector, or for its whole state when Full is set.
type SyncRequest struct {
	Collection string                `json:"collection_id" msgpack:"collection_id"`
	Kind       crdt.Kind             `json:"crdt_type" msgpack:"crdt_type"`
	Vector     replica.VersionVector `json:"vector" msgpack:"vector"`
	Full       bool                  `json:"full,omitempty" msgpack:"full,omitempty"`
}

// SyncResponse closes the peer's half of an exchange after Sent deltas.
type SyncResponse struct {
	Collection string                `json:"collection_id" msgpack:"collection_id"`
	Vector     replica.VersionVector `json:"vector" msgpack:"vector"`
	Sent       int                   `json:"sent" msgpack:"sent"`
	FullState  bool                  `json:"full_state,omitempty" msgpack:"full_state,omitempty"`
}

// FullState carries an entire collection state and the vector it reflects.
type FullState struct {
	Collection string                `json:"collection_id" msgpack:"collection_id"`
	Kind       crdt.Kind             `json:"crdt_type" msgpack:"crdt_type"`
	Payload    []byte                `json:"payload" msgpack:"payload"`
	Vector     replica.VersionVector `json:"vector" msgpack:"vector"`
}

type ResyncRequest struct {
	Collection string `json:"collection_id" msgpack:"collection_id"`
}

func newMessage(t MessageType, from replica.ID) *Message {
	return &Message{
		Type:            t,
		ProtocolVersion: Version,
		Timestamp:       time.Now().UnixMilli(),
		ReplicaID:       from,
	}
}

func NewDelta(from replica.ID, d delta.Delta) *Message {
	m := newMessage(TypeDelta, from)
	m.Delta = &d
	return m
}

func NewHeartbeat(from replica.ID, stats Stats) *Message {
	m := newMessage(TypeHeartbeat, from)
	m.Heartbeat = &Heartbeat{Stats: stats}
	return m
}

func NewPeerJoin(from replica.ID, join PeerJoin) *Message {
	m := newMessage(TypePeerJoin, from)
	m.PeerJoin = &join
	return m
}

func NewPeerLeave(from replica.ID, reason string) *Message {
	m := newMessage(TypePeerLeave, from)
	m.PeerLeave = &PeerLeave{Reason: reason}
	return m
}

func NewSyncRequest(from replica.ID, req SyncRequest) *Message {
	m := newMessage(TypeSyncRequest, from)
	m.SyncRequest = &req
	return m
}

func NewSyncResponse(from replica.ID, resp SyncResponse) *Message {
	m := newMessage(TypeSyncResponse, from)
	m.SyncResponse = &resp
	return m
}

func NewFullState(from replica.ID, fs FullState) *Message {
	m := newMessage(TypeFullState, from)
	m.FullState = &fs
	return m
}

func NewResyncRequest(from replica.ID, collection string) *Message {
	m := newMessage(TypeResyncRequest, from)
	m.ResyncRequest = &ResyncRequest{Collection: collection}
	return m
}
