package client

import (
	"time"

	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/sync"
)

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeSynced       EventType = "synced"
	EventTypeOffline      EventType = "offline"
	EventTypePeerJoined   EventType = "peer_joined"
	EventTypePeerLeft     EventType = "peer_left"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Session   string
	Peer      string
	Reason    string
}

// route names the bus subscription carrying t and how to read it back.
func (t EventType) route() (string, string, func(bus.Event) (Event, bool)) {
	switch t {
	case EventTypeConnected, EventTypeDisconnected, EventTypeSynced, EventTypeOffline:
		return "", bus.TypeStatus, fromState
	case EventTypePeerJoined, EventTypePeerLeft:
		return "", bus.TypePeer, fromPeer
	default:
		return "", "", nil
	}
}

func fromState(ev bus.Event) (Event, bool) {
	sc, ok := ev.Data.(sync.StateChange)
	if !ok {
		return Event{}, false
	}
	out := Event{Timestamp: ev.Timestamp, Session: sc.Session, Peer: sc.Peer.String()}
	switch {
	case sc.To == sync.Connected:
		out.Type = EventTypeConnected
	case sc.To == sync.Synced:
		out.Type = EventTypeSynced
	case sc.To == sync.Offline:
		out.Type = EventTypeOffline
	case sc.From.Linked() && !sc.To.Linked():
		out.Type = EventTypeDisconnected
	default:
		return Event{}, false
	}
	return out, true
}

func fromPeer(ev bus.Event) (Event, bool) {
	pc, ok := ev.Data.(sync.PeerChange)
	if !ok {
		return Event{}, false
	}
	out := Event{
		Type:      EventTypePeerLeft,
		Timestamp: ev.Timestamp,
		Session:   pc.Peer.Session,
		Peer:      pc.Peer.ID.String(),
		Reason:    pc.Reason,
	}
	if pc.Joined {
		out.Type = EventTypePeerJoined
	}
	return out, true
}
