package sync

import (
	"context"
	"errors"
	"slices"
	sc "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

// Authenticator vets a joining peer. The credential is opaque to the engine.
type Authenticator func(peer replica.ID, join protocol.PeerJoin) error

// Peer is a roster entry.
type Peer struct {
	ID       replica.ID
	Session  string
	Addr     string
	UserInfo map[string]string
	JoinedAt time.Time
}

// StateChange is the Data of a bus.TypeStatus event.
type StateChange struct {
	Session string
	Peer    replica.ID
	From    State
	To      State
}

// PeerChange is the Data of a bus.TypePeer event.
type PeerChange struct {
	Peer   Peer
	Joined bool
	Reason string
}

type Option func(*Engine)

func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEvents publishes session state and roster changes on the default topic.
func WithEvents(b bus.EventBus) Option {
	return func(e *Engine) { e.events = b }
}

func WithAuthenticator(fn Authenticator) Option {
	return func(e *Engine) { e.auth = fn }
}

// WithIdentity sets what the engine announces in its PeerJoin.
func WithIdentity(userInfo map[string]string, credential string) Option {
	return func(e *Engine) {
		e.userInfo = userInfo
		e.credential = credential
	}
}

// Engine replicates the collections of a Source with any number of peers.
type Engine struct {
	id      replica.ID
	source  Source
	codec   protocol.Codec
	cfg     Config
	logger  log.Log
	metrics MetricsCollector
	events  bus.EventBus

	auth       Authenticator
	userInfo   map[string]string
	credential string

	guard  guard
	flight singleflight.Group

	mu       sc.RWMutex
	sessions map[string]*Session
	roster   map[replica.ID]Peer
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(id replica.ID, source Source, codec protocol.Codec, cfg Config, logger log.Log, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MissedHeartbeats <= 0 {
		cfg.MissedHeartbeats = def.MissedHeartbeats
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = def.OutboundQueue
	}
	if codec == nil {
		codec = protocol.MsgpackCodec{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:       id,
		source:   source,
		codec:    codec,
		cfg:      cfg,
		logger:   logger.With(log.Component("sync"), log.Replica(id)),
		metrics:  NopMetrics{},
		sessions: make(map[string]*Session),
		roster:   make(map[replica.ID]Peer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	source.OnDelta(e.broadcast)
	return e
}

func (e *Engine) ID() replica.ID { return e.id }

// Dial starts a session that keeps a link to endpoint.
func (e *Engine) Dial(dialer protocol.Dialer, endpoint string) (*Session, error) {
	s := newSession(e, protocol.NewTransport(dialer), endpoint)
	if err := e.track(s); err != nil {
		return nil, err
	}
	go s.dial()
	return s, nil
}

// Accept runs a session on an inbound connection.
func (e *Engine) Accept(conn protocol.Conn) (*Session, error) {
	s := newSession(e, protocol.Accepted(conn), conn.RemoteAddr())
	if err := e.track(s); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go s.accept()
	return s, nil
}

// Serve accepts connections from l until ctx ends or l fails.
func (e *Engine) Serve(ctx context.Context, l protocol.Listener) error {
	e.logger.Info("Accepting peers", log.String("addr", l.Addr()))
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if _, err = e.Accept(conn); err != nil {
			return err
		}
	}
}

func (e *Engine) track(s *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.sessions[s.id] = s
	return nil
}

func (e *Engine) forget(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, s.id)
}

// Sessions lists the live sessions ordered by id.
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int {
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})
	return out
}

// State folds every session state into one.
func (e *Engine) State() State {
	sessions := e.Sessions()
	states := make([]State, len(sessions))
	for i, s := range sessions {
		states[i] = s.State()
	}
	return Fold(states...)
}

// Peers returns the roster ordered by replica id.
func (e *Engine) Peers() []Peer {
	e.mu.RLock()
	out := make([]Peer, 0, len(e.roster))
	for _, p := range e.roster {
		out = append(out, p)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b Peer) int { return a.ID.Compare(b.ID) })
	return out
}

// Sync runs a push and pull cycle for the named collection with every linked
// peer. Without any link it fails with errs.ErrOffline.
func (e *Engine) Sync(ctx context.Context, name string) (Result, error) {
	c, ok := e.source.Lookup(name)
	if !ok {
		return Result{Collection: name}, errs.New(errs.CodeNotFound, "collection "+name, errs.ErrNotFound)
	}

	type target struct {
		s *Session
		l *link
	}
	var targets []target
	for _, s := range e.Sessions() {
		if l := s.current(); l != nil && s.State().Linked() {
			targets = append(targets, target{s: s, l: l})
		}
	}
	if len(targets) == 0 {
		return Result{Collection: name}, errs.New(errs.CodeOffline, "sync "+name, errs.ErrOffline)
	}

	started := time.Now()
	results, failures := concurrent.Collect(ctx, targets, 0, func(ctx context.Context, t target) (Result, error) {
		return t.s.cycle(ctx, t.l, c, true)
	})

	out := Result{Collection: name}
	var failed []error
	for i, r := range results {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		out.add(r)
	}
	out.Duration = time.Since(started)
	if out.Peers == 0 {
		return out, errors.Join(failed...)
	}
	return out, nil
}

// Close says goodbye to every peer and stops all sessions.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	_ = concurrent.Each(context.Background(), e.Sessions(), 0, func(_ context.Context, s *Session) error {
		s.Close()
		return nil
	})
	e.cancel()
	e.logger.Info("Sync engine stopped")
}

// broadcast forwards a delta committed on this replica to every linked peer
// except the one it came from and its origin.
func (e *Engine) broadcast(d delta.Delta, from replica.ID) {
	for _, s := range e.Sessions() {
		l := s.current()
		if l == nil || !s.State().Linked() {
			continue
		}
		if peer := s.Peer(); peer == from || peer == d.Origin {
			continue
		}
		s.trySend(l, protocol.NewDelta(e.id, d))
	}
}

// stats is the heartbeat payload.
func (e *Engine) stats() protocol.Stats {
	collections := e.source.All()
	stats := protocol.Stats{Collections: make(map[string]protocol.CollectionStats, len(collections))}
	for _, c := range collections {
		digest, err := c.Digest()
		if err != nil {
			continue
		}
		stats.Collections[c.Name()] = protocol.CollectionStats{Vector: c.Vector(), Digest: digest}
		stats.Pending += c.Held()
	}
	return stats
}

func (e *Engine) join(s *Session, id replica.ID, join protocol.PeerJoin) {
	p := Peer{
		ID:       id,
		Session:  s.id,
		Addr:     s.transport.RemoteAddr(),
		UserInfo: join.UserInfo,
		JoinedAt: time.Now(),
	}
	e.mu.Lock()
	e.roster[id] = p
	e.mu.Unlock()

	e.logger.Info("Peer joined", log.Peer(id), log.String("addr", p.Addr))
	e.publish(bus.TypePeer, PeerChange{Peer: p, Joined: true})
}

func (e *Engine) leave(id replica.ID, reason string) {
	e.mu.Lock()
	p, ok := e.roster[id]
	delete(e.roster, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.logger.Info("Peer left", log.Peer(id), log.String("reason", reason))
	e.publish(bus.TypePeer, PeerChange{Peer: p, Reason: reason})
}

func (e *Engine) publishState(s *Session, from, to State) {
	e.publish(bus.TypeStatus, StateChange{Session: s.id, Peer: s.Peer(), From: from, To: to})
}

func (e *Engine) publish(typ string, data any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish("", bus.NewEvent(typ, e.id.String(), data)); err != nil {
		e.logger.Warn("Event handler failed", log.String("type", typ), log.Error(err))
	}
}
