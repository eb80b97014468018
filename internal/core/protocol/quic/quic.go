// Package quic carries protocol frames over a single bidirectional QUIC
// stream per connection, each frame prefixed with its 4-byte length.
package quic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/pkg/generic"
)

const headerSize = 4

var (
	ErrClosed        = errors.New("quic: connection closed")
	ErrFrameTooLarge = errors.New("quic: frame too large")
)

type Config struct {
	MaxFrameSize    uint32
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
	HandshakeIdle   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize:    16 << 20,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
		HandshakeIdle:   10 * time.Second,
	}
}

func (c Config) quic() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       c.MaxIdleTimeout,
		KeepAlivePeriod:      c.KeepAlivePeriod,
		HandshakeIdleTimeout: c.HandshakeIdle,
	}
}

var frames = generic.NewBufferPool(4096, 1<<20)

// Conn is a QUIC connection plus its one stream.
type Conn struct {
	conn    *quic.Conn
	stream  *quic.Stream
	config  Config
	closed  atomic.Bool
	writeMu sync.Mutex
	readMu  sync.Mutex
}

var _ protocol.Conn = (*Conn)(nil)

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if uint32(len(frame)) > c.config.MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(frame))
	}

	bufp := frames.Get()
	buf := binary.BigEndian.AppendUint32((*bufp)[:0], uint32(len(frame)))
	buf = append(buf, frame...)
	defer func() {
		*bufp = buf
		frames.Put(bufp)
	}()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.stream.SetWriteDeadline(deadline)
	if _, err := c.stream.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
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
	_ = c.stream.SetReadDeadline(deadline)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.stream.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	var header [headerSize]byte
	if _, err := io.ReadFull(c.stream, header[:]); err != nil {
		return nil, c.readErr(ctx, err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > c.config.MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(c.stream, frame); err != nil {
		return nil, c.readErr(ctx, err)
	}
	return frame, nil
}

func (c *Conn) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return errors.Wrap(err, "failed to read frame")
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type Dialer struct {
	tls    *tls.Config
	config Config
}

func NewDialer(tlsConfig *tls.Config, config Config) *Dialer {
	return &Dialer{tls: tlsConfig, config: config}
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (protocol.Conn, error) {
	conn, err := quic.DialAddr(ctx, endpoint, d.tls, d.config.quic())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	return &Conn{conn: conn, stream: stream, config: d.config}, nil
}

// Listener accepts QUIC connections. A connection is handed out once the peer
// has opened its stream, which happens with the peer's first frame.
type Listener struct {
	listener *quic.Listener
	config   Config
	logger   log.Log
	accepted chan *Conn
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ protocol.Listener = (*Listener)(nil)

func Listen(addr string, tlsConfig *tls.Config, config Config, logger log.Log) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConfig, config.quic())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		listener: ln,
		config:   config,
		logger:   logger.With(log.Component("quic")),
		accepted: make(chan *Conn, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.acceptLoop()

	l.logger.Info("quic listener started", log.String("addr", ln.Addr().String()))
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Error("failed to accept connection", log.Error(err))
			}
			return
		}
		go l.awaitStream(conn)
	}
}

func (l *Listener) awaitStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(l.ctx, l.config.MaxIdleTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Debug("peer never opened a stream", log.String("remote", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.CloseWithError(0, "no stream")
		return
	}

	c := &Conn{conn: conn, stream: stream, config: l.config}
	select {
	case l.accepted <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.cancel()
	return l.listener.Close()
}

func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}
