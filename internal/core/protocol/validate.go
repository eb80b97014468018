package protocol

import (
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/errs"
)

// MaxCollectionName bounds collection identifiers on the wire.
const MaxCollectionName = 256

func violation(format string, args ...any) error {
	return errs.New(errs.CodeProtocolViolation, fmt.Sprintf(format, args...), errs.ErrProtocolViolation)
}

// Validate checks a decoded message against the schema. It never panics on
// hostile input; every failure is an errs.ErrProtocolViolation.
func Validate(m *Message) error {
	if m == nil {
		return violation("empty message")
	}
	if m.ProtocolVersion != Version {
		return violation("unsupported protocol version %d", m.ProtocolVersion)
	}
	if m.ReplicaID.IsZero() {
		return violation("missing replica_id")
	}
	if m.Timestamp <= 0 {
		return violation("missing timestamp")
	}

	bodies := 0
	for _, set := range []bool{
		m.Delta != nil, m.Heartbeat != nil, m.PeerJoin != nil, m.PeerLeave != nil,
		m.SyncRequest != nil, m.SyncResponse != nil, m.FullState != nil, m.ResyncRequest != nil,
	} {
		if set {
			bodies++
		}
	}
	if bodies != 1 {
		return violation("%s message carries %d bodies", m.Type, bodies)
	}

	switch m.Type {
	case TypeDelta:
		if m.Delta == nil {
			return violation("delta body missing")
		}
		d := m.Delta
		if err := validCollection(d.Collection, d.Kind); err != nil {
			return err
		}
		if d.Origin.IsZero() {
			return violation("delta without origin")
		}
		if d.Seq == 0 {
			return violation("delta sequence number must be positive")
		}
		if len(d.Payload) == 0 {
			return violation("delta without payload")
		}
	case TypeHeartbeat:
		if m.Heartbeat == nil {
			return violation("heartbeat body missing")
		}
	case TypePeerJoin:
		if m.PeerJoin == nil {
			return violation("peer_join body missing")
		}
	case TypePeerLeave:
		if m.PeerLeave == nil {
			return violation("peer_leave body missing")
		}
	case TypeSyncRequest:
		if m.SyncRequest == nil {
			return violation("sync_request body missing")
		}
		return validCollection(m.SyncRequest.Collection, m.SyncRequest.Kind)
	case TypeSyncResponse:
		if m.SyncResponse == nil {
			return violation("sync_response body missing")
		}
		if m.SyncResponse.Sent < 0 {
			return violation("negative sent count")
		}
		return validCollection(m.SyncResponse.Collection, crdt.KindLWWRegister)
	case TypeFullState:
		if m.FullState == nil {
			return violation("full_state body missing")
		}
		if len(m.FullState.Payload) == 0 {
			return violation("full_state without payload")
		}
		return validCollection(m.FullState.Collection, m.FullState.Kind)
	case TypeResyncRequest:
		if m.ResyncRequest == nil {
			return violation("resync_request body missing")
		}
		return validCollection(m.ResyncRequest.Collection, crdt.KindLWWRegister)
	default:
		return violation("unknown message type %q", m.Type)
	}
	return nil
}

func validCollection(name string, kind crdt.Kind) error {
	if name == "" || len(name) > MaxCollectionName {
		return violation("invalid collection id %q", name)
	}
	if !kind.Valid() {
		return violation("invalid crdt_type %d", kind)
	}
	return nil
}
