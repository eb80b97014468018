// Package memory is an in-process transport. Peers find each other by name on
// a shared Network; used by tests and by embedded deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/crdtsync/internal/core/protocol"
)

var (
	ErrClosed     = errors.New("memory: connection closed")
	ErrNoListener = errors.New("memory: no listener")
)

const defaultBuffer = 256

// Network is a namespace of listeners.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	buffer    int
	duplicate atomic.Bool
	down      atomic.Bool
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*Listener), buffer: defaultBuffer}
}

// Duplicate makes every frame sent afterwards arrive twice.
func (n *Network) Duplicate(on bool) {
	n.duplicate.Store(on)
}

// Partition drops all traffic and refuses dials until healed.
func (n *Network) Partition(down bool) {
	n.down.Store(down)
}

func (n *Network) Listen(name string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.listeners[name]; taken {
		return nil, fmt.Errorf("memory: %s already in use", name)
	}
	l := &Listener{
		net:     n,
		name:    name,
		pending: make(chan *Conn, n.buffer),
		done:    make(chan struct{}),
	}
	n.listeners[name] = l
	return l, nil
}

func (n *Network) Dialer() protocol.Dialer {
	return dialer{net: n}
}

func (n *Network) unlisten(name string) {
	n.mu.Lock()
	delete(n.listeners, name)
	n.mu.Unlock()
}

type dialer struct {
	net *Network
}

func (d dialer) Dial(ctx context.Context, endpoint string) (protocol.Conn, error) {
	if d.net.down.Load() {
		return nil, fmt.Errorf("%w: network partitioned", ErrNoListener)
	}
	d.net.mu.Lock()
	l, ok := d.net.listeners[endpoint]
	d.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w at %s", ErrNoListener, endpoint)
	}

	client, server := pipe(d.net, "client", endpoint)
	select {
	case l.pending <- server:
		return client, nil
	case <-l.done:
		return nil, fmt.Errorf("%w at %s", ErrNoListener, endpoint)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Listener struct {
	net     *Network
	name    string
	pending chan *Conn
	done    chan struct{}
	once    sync.Once
}

var _ protocol.Listener = (*Listener)(nil)

func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.net.unlisten(l.name)
	})
	return nil
}

func (l *Listener) Addr() string {
	return l.name
}

// Conn is one end of an in-memory pipe. Closing either end closes both.
type Conn struct {
	net    *Network
	remote string
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

var _ protocol.Conn = (*Conn)(nil)

func pipe(n *Network, clientName, serverName string) (*Conn, *Conn) {
	a := make(chan []byte, n.buffer)
	b := make(chan []byte, n.buffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	client := &Conn{net: n, remote: serverName, in: b, out: a, closed: closed, once: once}
	server := &Conn{net: n, remote: clientName, in: a, out: b, closed: closed, once: once}
	return client, server
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if c.net.down.Load() {
		return nil
	}
	copies := 1
	if c.net.duplicate.Load() {
		copies = 2
	}
	for range copies {
		buf := append([]byte(nil), frame...)
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		select {
		case c.out <- buf:
		case <-c.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}
