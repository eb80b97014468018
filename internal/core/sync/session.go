package sync

import (
	"context"
	"errors"
	sc "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

// Result summarises one sync cycle.
type Result struct {
	Collection string
	Peers      int
	Sent       int
	Received   int
	FullState  bool
	Duration   time.Duration
}

func (r *Result) add(o Result) {
	r.Peers += o.Peers
	r.Sent += o.Sent
	r.Received += o.Received
	r.FullState = r.FullState || o.FullState
}

// Session runs the protocol state machine against one peer. Dialed sessions
// reconnect with backoff until they go Offline; accepted sessions end with
// their connection.
type Session struct {
	id        string
	engine    *Engine
	transport *protocol.Transport
	endpoint  string
	logger    log.Log

	state atomic.Uint32
	peer  atomic.Pointer[replica.ID]

	mu   sc.Mutex
	link *link

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// link is the per-connection half of a session.
type link struct {
	ctx   context.Context
	group *errgroup.Group
	out   chan []byte

	received   atomic.Uint64
	violations atomic.Int32
	active     atomic.Int32
	synced     atomic.Bool

	mu      sc.Mutex
	waiters map[string]chan *protocol.SyncResponse
}

func newSession(e *Engine, transport *protocol.Transport, endpoint string) *Session {
	ctx, cancel := context.WithCancel(e.ctx)
	s := &Session{
		id:        uuid.NewString(),
		engine:    e,
		transport: transport,
		endpoint:  endpoint,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.logger = e.logger.With(log.Component("session"), log.String("session", s.id), log.String("endpoint", endpoint))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Endpoint() string { return s.endpoint }

func (s *Session) State() State { return State(s.state.Load()) }

// Peer returns the replica on the other end, zero until it has spoken.
func (s *Session) Peer() replica.ID {
	if p := s.peer.Load(); p != nil {
		return *p
	}
	return replica.Nil
}

// Done is closed once the session has stopped for good.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reconnect restarts the backoff schedule of an Offline session.
func (s *Session) Reconnect() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close announces the departure to the peer and stops the session.
func (s *Session) Close() {
	if l := s.current(); l != nil {
		frame, err := s.engine.codec.Encode(protocol.NewPeerLeave(s.engine.id, "closing"))
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = s.transport.Send(ctx, frame)
			cancel()
		}
	}
	s.cancel()
	<-s.done
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(uint32(to)))
	if from == to {
		return
	}
	s.logger.Debug("Session state changed", log.String("from", from.String()), log.State(to))
	s.engine.metrics.SessionState(from, to)
	s.engine.publishState(s, from, to)
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// dial is the run loop of a dialed session.
func (s *Session) dial() {
	defer close(s.done)
	defer s.engine.forget(s)
	defer s.setState(Disconnected)

	backoff := s.engine.cfg.Backoff
	attempt := 0
	for {
		delay, ok := backoff.Delay(attempt)
		if !ok {
			s.setState(Offline)
			s.logger.Warn("Peer unreachable, giving up", log.Int("attempts", attempt))
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				attempt = 0
				continue
			}
		}
		if err := concurrent.Sleep(s.ctx, delay); err != nil {
			return
		}
		attempt++

		s.setState(Connecting)
		if err := s.transport.Connect(s.ctx, s.endpoint); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Connect failed", log.Int("attempt", attempt), log.Error(err))
			s.setState(Error)
			continue
		}

		synced, err := s.serve(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if synced {
			attempt = 1
		}
		s.logger.Warn("Link lost", log.Error(err))
		s.setState(Error)
	}
}

// accept is the run loop of an accepted session.
func (s *Session) accept() {
	defer close(s.done)
	defer s.engine.forget(s)
	defer s.setState(Disconnected)

	if _, err := s.serve(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Info("Link closed", log.Error(err))
	}
}

// serve runs one connection until it fails. It reports whether the link
// reached Synced.
func (s *Session) serve(ctx context.Context) (bool, error) {
	group, gctx := errgroup.WithContext(ctx)
	l := &link{
		ctx:     gctx,
		group:   group,
		out:     make(chan []byte, max(s.engine.cfg.OutboundQueue, 1)),
		waiters: make(map[string]chan *protocol.SyncResponse),
	}
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
	s.setState(Connected)
	s.logger.Info("Link established", log.String("remote", s.transport.RemoteAddr()))

	group.Go(func() error { return s.write(l) })
	group.Go(func() error { return s.read(l) })
	group.Go(func() error { return s.heartbeat(l) })
	group.Go(func() error {
		s.greet(l)
		return nil
	})

	err := group.Wait()

	s.mu.Lock()
	s.link = nil
	s.mu.Unlock()
	_ = s.transport.Disconnect()
	if peer := s.Peer(); !peer.IsZero() {
		s.engine.leave(peer, "link lost")
	}
	return l.synced.Load(), err
}

// greet introduces the local replica and pulls every collection.
func (s *Session) greet(l *link) {
	e := s.engine
	join := protocol.PeerJoin{UserInfo: e.userInfo, Credential: e.credential}
	if err := s.send(l, l.ctx, protocol.NewPeerJoin(e.id, join)); err != nil {
		return
	}

	collections := e.source.All()
	if len(collections) == 0 {
		s.cycleDone(l, s.cycleStart(l))
		return
	}
	_ = concurrent.Each(l.ctx, collections, 0, func(ctx context.Context, c Syncable) error {
		if _, err := s.cycle(ctx, l, c, true); err != nil && ctx.Err() == nil {
			s.logger.Warn("Initial sync failed", log.Collection(c.Name()), log.Error(err))
		}
		return nil
	})
}

func (s *Session) write(l *link) error {
	for {
		select {
		case <-l.ctx.Done():
			return nil
		case frame := <-l.out:
			if err := s.transport.Send(l.ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) read(l *link) error {
	for {
		frame, err := s.transport.Receive(l.ctx)
		if err != nil {
			return err
		}
		l.received.Add(1)

		msg, err := s.engine.codec.Decode(frame)
		if err != nil {
			if err = s.violation(l, err); err != nil {
				return err
			}
			continue
		}
		l.violations.Store(0)
		if msg.ReplicaID == s.engine.id {
			continue
		}
		if err = s.handle(l, msg); err != nil {
			return err
		}
	}
}

func (s *Session) violation(l *link, err error) error {
	s.engine.metrics.ProtocolViolation()
	n := l.violations.Add(1)
	s.logger.Warn("Dropped malformed message", log.Int("violations", int(n)), log.Error(err))
	if limit := s.engine.cfg.MaxViolations; limit > 0 && int(n) >= limit {
		return errs.New(errs.CodeProtocolViolation, "reset link", ErrTooManyViolations)
	}
	return nil
}

func (s *Session) heartbeat(l *link) error {
	cfg := s.engine.cfg
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	last, missed := l.received.Load(), 0
	for {
		select {
		case <-l.ctx.Done():
			return nil
		case <-ticker.C:
		}
		s.trySend(l, protocol.NewHeartbeat(s.engine.id, s.engine.stats()))

		now := l.received.Load()
		if now != last {
			last, missed = now, 0
			continue
		}
		missed++
		s.engine.metrics.HeartbeatMissed()
		s.logger.Debug("Heartbeat missed", log.Int("missed", missed))
		if missed >= cfg.MissedHeartbeats {
			return errs.New(errs.CodeTransport, "reset link", ErrHeartbeatTimeout)
		}
	}
}

func (s *Session) handle(l *link, msg *protocol.Message) error {
	if s.peer.Load() == nil {
		id := msg.ReplicaID
		s.peer.Store(&id)
	}
	from := msg.ReplicaID
	e := s.engine

	switch msg.Type {
	case protocol.TypeDelta:
		return s.applyDelta(l, *msg.Delta, from)

	case protocol.TypeHeartbeat:
		s.compare(l, msg.Heartbeat.Stats)

	case protocol.TypeSyncRequest:
		req := *msg.SyncRequest
		l.group.Go(func() error {
			s.respond(l, req)
			return nil
		})

	case protocol.TypeSyncResponse:
		l.mu.Lock()
		waiter, ok := l.waiters[msg.SyncResponse.Collection]
		delete(l.waiters, msg.SyncResponse.Collection)
		l.mu.Unlock()
		if ok {
			waiter <- msg.SyncResponse
		}

	case protocol.TypeFullState:
		fs := msg.FullState
		c, err := e.source.Ensure(fs.Collection, fs.Kind)
		if err != nil {
			s.logger.Warn("Dropped full state", log.Collection(fs.Collection), log.Error(err))
			return nil
		}
		if err = c.ApplyFullState(l.ctx, fs.Kind, fs.Payload, fs.Vector, from); err != nil {
			s.logger.Warn("Full state rejected", log.Collection(fs.Collection), log.Error(err))
			return nil
		}
		e.metrics.FullStateTransfer(fs.Collection, "in")

	case protocol.TypeResyncRequest:
		name := msg.ResyncRequest.Collection
		l.group.Go(func() error {
			if c, ok := e.source.Lookup(name); ok {
				_ = s.sendFullState(l, l.ctx, c)
			}
			return nil
		})

	case protocol.TypePeerJoin:
		if e.auth != nil {
			if err := e.auth(from, *msg.PeerJoin); err != nil {
				s.logger.Warn("Peer rejected", log.Error(err))
				return errs.New(errs.CodeProtocolViolation, "join "+from.String(), ErrUnauthorized)
			}
		}
		e.join(s, from, *msg.PeerJoin)

	case protocol.TypePeerLeave:
		s.logger.Info("Peer left", log.String("reason", msg.PeerLeave.Reason))
		return ErrPeerLeft
	}
	return nil
}

func (s *Session) applyDelta(l *link, d delta.Delta, from replica.ID) error {
	c, err := s.engine.source.Ensure(d.Collection, d.Kind)
	if err != nil {
		s.logger.Debug("Dropped delta for unknown collection", log.Collection(d.Collection), log.Error(err))
		return nil
	}
	verdict, err := c.ApplyDelta(l.ctx, d, from)
	if err != nil {
		if errors.Is(err, errs.ErrBufferOverflow) {
			s.logger.Warn("Reorder buffer overflow, resetting link", log.Collection(d.Collection), log.Error(err))
			return err
		}
		s.logger.Warn("Delta rejected", log.Collection(d.Collection), log.Seq(d.Seq), log.Error(err))
		return nil
	}
	s.engine.metrics.DeltaReceived(d.Collection, verdict)
	return nil
}

// compare reacts to the peer's heartbeat stats: a peer ahead of us is
// pulled from, a peer with equal vectors but a different digest is asked
// for its full state.
func (s *Session) compare(l *link, stats protocol.Stats) {
	for name, remote := range stats.Collections {
		c, ok := s.engine.source.Lookup(name)
		if !ok {
			continue
		}
		switch c.Vector().Compare(remote.Vector) {
		case replica.Before, replica.Concurrent:
			s.schedulePull(l, c)
		case replica.Equal:
			if c.Held() > 0 {
				continue
			}
			digest, err := c.Digest()
			if err != nil || digest == remote.Digest {
				continue
			}
			s.logger.Warn("State digest mismatch", log.Collection(name))
			s.trySend(l, protocol.NewResyncRequest(s.engine.id, name))
		}
	}
}

func (s *Session) schedulePull(l *link, c Syncable) {
	key := s.id + "/" + c.Name()
	l.group.Go(func() error {
		_, _, _ = s.engine.flight.Do(key, func() (any, error) {
			return s.cycle(l.ctx, l, c, false)
		})
		return nil
	})
}

func (s *Session) cycleStart(l *link) time.Time {
	if l.active.Add(1) == 1 && s.State().Linked() {
		s.setState(Syncing)
	}
	return time.Now()
}

func (s *Session) cycleDone(l *link, _ time.Time) {
	if l.active.Add(-1) == 0 && l.ctx.Err() == nil {
		l.synced.Store(true)
		s.setState(Synced)
	}
}

// cycle pulls what the peer has that c lacks and, with push, sends what the
// peer lacks. Cycles on one collection never overlap.
func (s *Session) cycle(ctx context.Context, l *link, c Syncable, push bool) (Result, error) {
	e := s.engine
	name := c.Name()
	res := Result{Collection: name, Peers: 1}

	unlock, err := e.guard.lock(ctx, name)
	if err != nil {
		return res, err
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()

	started := s.cycleStart(l)
	defer s.cycleDone(l, started)

	res, err = s.exchange(ctx, l, c, push)
	res.Duration = time.Since(started)
	e.metrics.SyncCycle(name, res.Duration, err)
	if err != nil {
		s.logger.Debug("Sync cycle failed", log.Collection(name), log.Error(err))
	} else {
		s.logger.Debug("Sync cycle done",
			log.Collection(name),
			log.Int("sent", res.Sent),
			log.Int("received", res.Received),
			log.Bool("full_state", res.FullState),
			log.Duration("took", res.Duration),
		)
	}
	return res, err
}

func (s *Session) exchange(ctx context.Context, l *link, c Syncable, push bool) (Result, error) {
	e := s.engine
	name := c.Name()
	res := Result{Collection: name, Peers: 1}

	waiter := make(chan *protocol.SyncResponse, 1)
	l.mu.Lock()
	l.waiters[name] = waiter
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.waiters[name] == waiter {
			delete(l.waiters, name)
		}
		l.mu.Unlock()
	}()

	req := protocol.SyncRequest{
		Collection: name,
		Kind:       c.Kind(),
		Vector:     c.Vector(),
		Full:       c.NeedsFullState(),
	}
	if err := s.send(l, ctx, protocol.NewSyncRequest(e.id, req)); err != nil {
		return res, err
	}

	var resp *protocol.SyncResponse
	select {
	case resp = <-waiter:
	case <-ctx.Done():
		return res, ctx.Err()
	case <-l.ctx.Done():
		return res, errs.New(errs.CodeTransport, "await "+name, ErrLinkClosed)
	}
	res.Received = resp.Sent
	res.FullState = resp.FullState

	if !push {
		return res, nil
	}
	deltas, err := c.DeltasSince(resp.Vector)
	if errors.Is(err, delta.ErrCompacted) {
		res.FullState = true
		return res, s.sendFullState(l, ctx, c)
	}
	if err != nil {
		return res, err
	}
	for _, d := range deltas {
		if err = s.send(l, ctx, protocol.NewDelta(e.id, d)); err != nil {
			return res, err
		}
		res.Sent++
	}
	return res, nil
}

// respond serves a peer's SyncRequest and closes it with a SyncResponse.
func (s *Session) respond(l *link, req protocol.SyncRequest) {
	e := s.engine
	resp := protocol.SyncResponse{Collection: req.Collection, Vector: replica.NewVersionVector()}

	c, err := e.source.Ensure(req.Collection, req.Kind)
	switch {
	case err != nil:
		s.logger.Debug("Sync request for unavailable collection", log.Collection(req.Collection), log.Error(err))
	case c.Kind() != req.Kind:
		s.logger.Warn("Sync request with mismatched kind",
			log.Collection(req.Collection),
			log.Stringer("want", c.Kind()),
			log.Stringer("got", req.Kind),
		)
	default:
		full := req.Full
		var deltas []delta.Delta
		if !full {
			deltas, err = c.DeltasSince(req.Vector)
			if errors.Is(err, delta.ErrCompacted) {
				full = true
			} else if err != nil {
				s.logger.Warn("Delta lookup failed", log.Collection(req.Collection), log.Error(err))
			}
		}
		if full {
			if err = s.sendFullState(l, l.ctx, c); err != nil {
				return
			}
			resp.FullState = true
		}
		for _, d := range deltas {
			if err = s.send(l, l.ctx, protocol.NewDelta(e.id, d)); err != nil {
				return
			}
			resp.Sent++
		}
		resp.Vector = c.Vector()
	}
	_ = s.send(l, l.ctx, protocol.NewSyncResponse(e.id, resp))
}

func (s *Session) sendFullState(l *link, ctx context.Context, c Syncable) error {
	payload, vv, err := c.FullState()
	if err != nil {
		s.logger.Error("Encode full state failed", log.Collection(c.Name()), log.Error(err))
		return err
	}
	fs := protocol.FullState{Collection: c.Name(), Kind: c.Kind(), Payload: payload, Vector: vv}
	if err = s.send(l, ctx, protocol.NewFullState(s.engine.id, fs)); err != nil {
		return err
	}
	s.engine.metrics.FullStateTransfer(c.Name(), "out")
	return nil
}

// send queues msg, blocking while the outbound queue is full.
func (s *Session) send(l *link, ctx context.Context, msg *protocol.Message) error {
	frame, err := s.engine.codec.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case l.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return errs.New(errs.CodeTransport, "send "+string(msg.Type), ErrLinkClosed)
	}
}

// trySend queues msg unless the outbound queue is full. Dropped deltas are
// recovered by the next heartbeat triggered pull.
func (s *Session) trySend(l *link, msg *protocol.Message) bool {
	frame, err := s.engine.codec.Encode(msg)
	if err != nil {
		s.logger.Error("Encode failed", log.String("type", string(msg.Type)), log.Error(err))
		return false
	}
	select {
	case l.out <- frame:
		return true
	default:
		s.logger.Debug("Outbound queue full, dropped message", log.String("type", string(msg.Type)))
		return false
	}
}
