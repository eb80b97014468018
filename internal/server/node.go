// Package server runs a replica node: transport listeners, outbound peer
// sessions and the HTTP surface for status and metrics.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	sc "sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/protocol/quic"
	"github.com/zeusync/crdtsync/internal/core/protocol/websocket"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/sync"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
)

// Node owns the network side of a replica.
type Node struct {
	transport config.TransportConfig
	metrics   config.MetricsConfig
	engine    *sync.Engine
	manager   *manager.Manager
	registry  *prometheus.Registry
	logger    log.Log

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sc.WaitGroup

	mu        sc.Mutex
	listeners []protocol.Listener
	sessions  []*sync.Session
	http      *http.Server
	httpAddr  string
}

// CollectionStatus is one entry of Status.
type CollectionStatus struct {
	Name     string                `json:"name"`
	Kind     string                `json:"kind"`
	Degraded bool                  `json:"degraded"`
	Pending  int                   `json:"pending"`
	Held     int                   `json:"held"`
	Watchers int                   `json:"watchers"`
	Vector   replica.VersionVector `json:"vector"`
}

// Status is the node summary served on /status.
type Status struct {
	Replica     string              `json:"replica"`
	State       string              `json:"state"`
	Listeners   []string            `json:"listeners"`
	Peers       int                 `json:"peers"`
	Collections []CollectionStatus  `json:"collections"`
	Events      bus.EventBusMetrics `json:"events"`
}

func NewNode(cfg *config.Config, engine *sync.Engine, mgr *manager.Manager, registry *prometheus.Registry, logger log.Log) *Node {
	return &Node{
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		engine:    engine,
		manager:   mgr,
		registry:  registry,
		logger:    logger.With(log.Component("node"), log.Replica(mgr.ID())),
	}
}

func (n *Node) Manager() *manager.Manager { return n.manager }

func (n *Node) Engine() *sync.Engine { return n.engine }

func (n *Node) Logger() log.Log { return n.logger }

// Start opens every configured listener, dials every configured peer and
// serves metrics when enabled. Start does not block.
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrNodeRunning
	}
	ctx, n.cancel = context.WithCancel(ctx)

	for _, lc := range n.transport.Listen {
		l, err := n.listen(lc)
		if err != nil {
			n.shutdown(context.Background())
			return errors.Join(ErrListenerFailed, err)
		}
		n.serve(ctx, l)
	}

	for _, pc := range n.transport.Peers {
		if err := n.dial(pc); err != nil {
			n.shutdown(context.Background())
			return err
		}
	}

	if n.metrics.Enabled {
		if err := n.serveHTTP(); err != nil {
			n.shutdown(context.Background())
			return err
		}
	}

	n.logger.Info("Node started",
		log.Int("listeners", len(n.transport.Listen)),
		log.Int("peers", len(n.transport.Peers)),
	)
	return nil
}

func (n *Node) listen(lc config.ListenerConfig) (protocol.Listener, error) {
	switch lc.Kind {
	case config.TransportQUIC:
		tlsConfig, err := serverTLS(lc)
		if err != nil {
			return nil, err
		}
		return quic.Listen(lc.Addr, tlsConfig, quic.DefaultConfig(), n.logger)
	case config.TransportWebsocket:
		return websocket.Listen(lc.Addr, websocket.DefaultConfig(), n.logger)
	default:
		return nil, ErrUnknownPeerKind
	}
}

func serverTLS(lc config.ListenerConfig) (*tls.Config, error) {
	if lc.CertFile != "" {
		return quic.LoadTLSConfig(lc.CertFile, lc.KeyFile)
	}
	return quic.SelfSignedTLSConfig()
}

func (n *Node) serve(ctx context.Context, l protocol.Listener) {
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.engine.Serve(ctx, l); err != nil {
			n.logger.Error("Listener stopped", log.String("addr", l.Addr()), log.Error(err))
		}
	}()
}

func (n *Node) dial(pc config.PeerConfig) error {
	var dialer protocol.Dialer
	switch pc.Kind {
	case config.TransportQUIC:
		dialer = quic.NewDialer(quic.ClientTLSConfig(pc.Insecure), quic.DefaultConfig())
	case config.TransportWebsocket:
		dialer = websocket.NewDialer(websocket.DefaultConfig())
	default:
		return ErrUnknownPeerKind
	}
	s, err := n.engine.Dial(dialer, pc.Endpoint)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.sessions = append(n.sessions, s)
	n.mu.Unlock()
	return nil
}

func (n *Node) serveHTTP() error {
	ln, err := net.Listen("tcp", n.metrics.Addr)
	if err != nil {
		return errors.Join(ErrListenerFailed, err)
	}
	srv := &http.Server{
		Handler:           NewHTTPServer(n, n.registry, n.metrics.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
	n.mu.Lock()
	n.http = srv
	n.httpAddr = ln.Addr().String()
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()
	n.logger.Info("Serving metrics", log.String("addr", n.httpAddr), log.String("path", n.metrics.Path))
	return nil
}

// Addrs lists the bound listener addresses in configuration order.
func (n *Node) Addrs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.listeners))
	for i, l := range n.listeners {
		out[i] = l.Addr()
	}
	return out
}

// HTTPAddr is the bound metrics address, empty when metrics are disabled.
func (n *Node) HTTPAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.httpAddr
}

// Reconnect wakes every configured peer session that has gone Offline.
func (n *Node) Reconnect() {
	n.mu.Lock()
	sessions := append([]*sync.Session(nil), n.sessions...)
	n.mu.Unlock()
	for _, s := range sessions {
		if s.State() == sync.Offline {
			s.Reconnect()
		}
	}
}

func (n *Node) Peers() []sync.Peer {
	return n.engine.Peers()
}

func (n *Node) Status() Status {
	st := Status{
		Replica:   n.manager.ID().String(),
		State:     n.engine.State().String(),
		Listeners: n.Addrs(),
		Peers:     len(n.engine.Peers()),
		Events:    n.manager.Events().GetMetrics(),
	}
	watchers := make(map[string]int)
	for _, topic := range n.manager.Events().GetTopics() {
		watchers[topic.Name] = topic.Subs
	}
	for _, name := range n.manager.List() {
		c, err := n.manager.Get(name)
		if err != nil {
			continue
		}
		cs := c.Status()
		st.Collections = append(st.Collections, CollectionStatus{
			Name:     name,
			Kind:     c.Kind().String(),
			Degraded: cs.Degraded,
			Pending:  cs.Pending,
			Held:     cs.Held,
			Watchers: watchers[name],
			Vector:   cs.Vector,
		})
	}
	return st
}

// Stop closes listeners and sessions and waits for them to finish.
func (n *Node) Stop(ctx context.Context) error {
	if !n.running.Load() {
		return ErrNodeNotRunning
	}
	n.shutdown(ctx)
	n.logger.Info("Node stopped")
	return nil
}

func (n *Node) shutdown(ctx context.Context) {
	n.engine.Close()
	if n.cancel != nil {
		n.cancel()
	}

	n.mu.Lock()
	listeners, srv := n.listeners, n.http
	n.listeners, n.sessions, n.http = nil, nil, nil
	n.mu.Unlock()

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			n.logger.Warn("Close listener failed", log.String("addr", l.Addr()), log.Error(err))
		}
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			n.logger.Warn("HTTP shutdown failed", log.Error(err))
		}
	}
	n.wg.Wait()
	n.running.Store(false)
}
