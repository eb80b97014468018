package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zeusync/crdtsync/internal/core/errs"
)

// Conn is one established bidirectional frame stream. Frames arrive whole and
// in the order they were sent.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	RemoteAddr() string
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Status of a Transport.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("transport not connected")

// Transport wraps a Dialer with connect/disconnect bookkeeping. It is the only
// surface the sync engine uses to reach a peer.
type Transport struct {
	dialer Dialer
	status atomic.Uint32

	mu   sync.RWMutex
	conn Conn
}

func NewTransport(dialer Dialer) *Transport {
	return &Transport{dialer: dialer}
}

// Accepted wraps a connection produced by a Listener.
func Accepted(conn Conn) *Transport {
	t := &Transport{conn: conn}
	t.status.Store(uint32(StatusConnected))
	return t
}

func (t *Transport) Status() Status {
	return Status(t.status.Load())
}

// Connect dials endpoint, replacing any previous connection.
func (t *Transport) Connect(ctx context.Context, endpoint string) error {
	if t.dialer == nil {
		return errs.New(errs.CodeTransport, "accepted transport cannot redial", errs.ErrTransport)
	}
	_ = t.Disconnect()

	t.status.Store(uint32(StatusConnecting))
	conn, err := t.dialer.Dial(ctx, endpoint)
	if err != nil {
		t.status.Store(uint32(StatusDisconnected))
		return errs.New(errs.CodeTransport, "dial "+endpoint, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.status.Store(uint32(StatusConnected))
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.status.Store(uint32(StatusDisconnected))
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *Transport) current() (Conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, errs.New(errs.CodeTransport, "send on idle transport", ErrNotConnected)
	}
	return t.conn, nil
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	if err = conn.Send(ctx, frame); err != nil {
		return errs.New(errs.CodeTransport, "send", err)
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}
	frame, err := conn.Receive(ctx)
	if err != nil {
		return nil, errs.New(errs.CodeTransport, "receive", err)
	}
	return frame, nil
}

func (t *Transport) RemoteAddr() string {
	conn, err := t.current()
	if err != nil {
		return ""
	}
	return conn.RemoteAddr()
}
