// Package websocket carries protocol frames as binary websocket messages.
package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
)

// Path is where the listener accepts upgrades.
const Path = "/sync"

var ErrClosed = errors.New("websocket: connection closed")

type Config struct {
	BufferSize     int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	Compression    bool
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     4096,
		MaxMessageSize: 16 << 20,
		WriteTimeout:   10 * time.Second,
	}
}

// Conn adapts a gorilla connection to protocol.Conn.
type Conn struct {
	conn    *websocket.Conn
	config  Config
	closed  atomic.Bool
	writeMu sync.Mutex
	readMu  sync.Mutex
}

var _ protocol.Conn = (*Conn)(nil)

func newConn(c *websocket.Conn, config Config) *Conn {
	if config.MaxMessageSize > 0 {
		c.SetReadLimit(config.MaxMessageSize)
	}
	return &Conn{conn: c, config: config}
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)

	// gorilla has no context support; a cancelled context expires the deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType == websocket.BinaryMessage || messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Dialer opens client connections to ws:// or wss:// endpoints.
type Dialer struct {
	config Config
	dialer *websocket.Dialer
}

func NewDialer(config Config) *Dialer {
	return &Dialer{
		config: config,
		dialer: &websocket.Dialer{
			ReadBufferSize:    config.BufferSize,
			WriteBufferSize:   config.BufferSize,
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: config.Compression,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (protocol.Conn, error) {
	c, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	return newConn(c, d.config), nil
}

// Listener serves websocket upgrades on its own HTTP server.
type Listener struct {
	config   Config
	logger   log.Log
	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server
	accepted chan *Conn
	done     chan struct{}
	once     sync.Once
}

var _ protocol.Listener = (*Listener)(nil)

func Listen(addr string, config Config, logger log.Log) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	l := &Listener{
		config: config,
		logger: logger.With(log.Component("websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.BufferSize,
			WriteBufferSize:   config.BufferSize,
			EnableCompression: config.Compression,
			// Peers authenticate with the credential in PeerJoin, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		listener: ln,
		accepted: make(chan *Conn, 64),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleUpgrade)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", log.Error(err))
		}
	}()

	l.logger.Info("websocket listener started", log.String("addr", ln.Addr().String()))
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	select {
	case l.accepted <- newConn(c, l.config):
	case <-l.done:
		_ = c.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}

func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// URL is the endpoint a Dialer uses to reach this listener.
func (l *Listener) URL() string {
	return "ws://" + l.Addr() + Path
}
