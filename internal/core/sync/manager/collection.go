package manager

import (
	"context"
	"fmt"
	"slices"
	sc "sync"
	"sync/atomic"

	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/sync"
)

var _ sync.Syncable = (*Collection)(nil)

// Change is published once per affected key after a commit.
type Change struct {
	Collection string
	Key        string
	Origin     replica.ID
	Seq        uint64
	// Local is set for writes made on this replica, including conflict
	// rewrites.
	Local bool
}

// MutationResult describes a committed local write.
type MutationResult struct {
	Seq       uint64
	Timestamp replica.Timestamp
	Keys      []string
}

// Status is the observable condition of a collection.
type Status struct {
	State sync.State
	// Degraded is set while persisting the collection keeps failing.
	Degraded bool
	Pending  int
	Held     int
	Vector   replica.VersionVector
}

// Collection is one replicated CRDT instance. Every state change goes through
// its mutex; readers get clones or run under the read lock.
type Collection struct {
	name     string
	kind     crdt.Kind
	policy   crdt.Policy
	strategy conflict.StrategyKind
	owner    *Manager
	logger   log.Log

	mu       sc.RWMutex
	state    crdt.State
	tracker  *delta.Tracker
	log      *delta.Log
	pipeline *conflict.Pipeline

	needsFull atomic.Bool
	degraded  atomic.Bool
	persist   *persister
}

// commit is one change to announce once the lock is released. A commit
// with a zero Seq carries no delta of its own.
type commit struct {
	delta    delta.Delta
	keys     []string
	local    bool
	conflict *conflict.Conflict
}

func newCollection(m *Manager, name string, kind crdt.Kind, o collectionOptions) (*Collection, error) {
	state, err := crdt.New(kind, o.policy)
	if err != nil {
		return nil, err
	}
	strategy, err := conflict.NewStrategy(o.strategy, o.resolver)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		name:     name,
		kind:     kind,
		policy:   o.policy,
		strategy: o.strategy,
		owner:    m,
		logger:   m.logger.With(log.Component("collection"), log.Collection(name)),
		state:    state,
		tracker:  delta.NewTracker(m.cfg.BufferSize),
		log:      delta.NewLog(m.cfg.LogGrace, m.cfg.LogLimit),
		pipeline: conflict.NewPipeline(name, kind, strategy, m.logger),
	}
	c.pipeline.SetObserver(func(s conflict.StrategyKind, outcome string) {
		m.metrics.Conflict(name, s.String(), outcome)
	})
	c.persist = newPersister(c, m.store, m.logger)
	return c, nil
}

func (c *Collection) Name() string                   { return c.name }
func (c *Collection) Kind() crdt.Kind                 { return c.kind }
func (c *Collection) Policy() crdt.Policy             { return c.policy }
func (c *Collection) Strategy() conflict.StrategyKind { return c.strategy }

// Snapshot returns a copy of the current state.
func (c *Collection) Snapshot() crdt.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Read runs fn under the read lock. fn must not retain or modify state.
func (c *Collection) Read(fn func(state crdt.State)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.state)
}

// Mutate applies op locally and queues the resulting delta for every peer.
// It never waits for the network.
func (c *Collection) Mutate(ctx context.Context, op Op) (MutationResult, error) {
	if op.Kind() != c.kind {
		return MutationResult{}, errs.New(errs.CodeIncompatibleType, fmt.Sprintf("%s on %s", op, c.kind), errs.ErrIncompatibleType).
			WithContext("collection", c.name)
	}

	c.mu.Lock()
	cm, ts, err := c.commitLocked(func(ts replica.Timestamp, seq uint64) (crdt.State, error) {
		return op.apply(c.state, c.owner.id, ts, seq)
	})
	if err == nil {
		for _, key := range cm.keys {
			c.pipeline.Supersede(key)
		}
	}
	c.mu.Unlock()
	if err != nil {
		return MutationResult{}, err
	}

	c.owner.metrics.LocalMutation(c.name)
	c.publish([]commit{cm}, c.owner.id)
	return MutationResult{Seq: cm.delta.Seq, Timestamp: ts, Keys: cm.keys}, nil
}

// commitLocked stamps and records one local write built by build.
func (c *Collection) commitLocked(build func(ts replica.Timestamp, seq uint64) (crdt.State, error)) (commit, replica.Timestamp, error) {
	id := c.owner.id
	causal := c.tracker.Applied()
	seq := causal.Get(id) + 1
	ts := c.owner.clock.Now()

	frag, err := build(ts, seq)
	if err != nil {
		return commit{}, ts, err
	}
	d, err := delta.New(c.name, frag, id, seq, causal)
	if err != nil {
		return commit{}, ts, err
	}
	c.log.Append(d)
	c.tracker.Commit(d)
	return commit{delta: d, keys: frag.Keys(), local: true}, ts, nil
}

// ApplyDelta merges a remote delta exactly once. Deltas ahead of a gap are
// held until the gap closes; a full reorder buffer is dropped and the
// collection then asks its next peer for a full state.
func (c *Collection) ApplyDelta(_ context.Context, d delta.Delta, from replica.ID) (delta.Verdict, error) {
	if d.Kind != c.kind {
		return delta.Duplicate, errs.New(errs.CodeIncompatibleType, fmt.Sprintf("%s delta for %s", d.Kind, c.kind), errs.ErrIncompatibleType).
			WithContext("collection", c.name)
	}

	c.mu.Lock()
	verdict, err := c.tracker.Offer(d)
	if err != nil {
		c.tracker.Reset()
		c.needsFull.Store(true)
		c.mu.Unlock()
		c.logger.Warn("Reorder buffer overflow, full state required", log.Replica(d.Origin), log.Seq(d.Seq))
		return verdict, err
	}
	if verdict != delta.Apply {
		c.mu.Unlock()
		return verdict, nil
	}

	commits, err := c.drainLocked(d)
	c.mu.Unlock()

	c.publish(commits, from)
	return verdict, err
}

// drainLocked applies next and every held delta of its origin it unblocks.
func (c *Collection) drainLocked(next delta.Delta) ([]commit, error) {
	var out []commit
	for {
		applied, err := c.mergeLocked(next)
		if err != nil {
			return out, err
		}
		out = append(out, applied...)

		var ok bool
		if next, ok = c.tracker.Next(next.Origin); !ok {
			return out, nil
		}
	}
}

// mergeLocked merges one in-order delta and runs the conflict pipeline on
// the keys it wrote concurrently with local state.
func (c *Collection) mergeLocked(d delta.Delta) ([]commit, error) {
	frag, err := d.Fragment()
	if err != nil {
		return nil, errs.New(errs.CodeProtocolViolation, "decode "+d.Key().String(), err)
	}
	divergences := crdt.Divergences(c.state, frag, d.Context, c.tracker.Applied())
	if err = crdt.Merge(c.state, frag); err != nil {
		return nil, err
	}
	c.log.Append(d)
	c.tracker.Commit(d)
	c.owner.clock.Observe(frag.MaxCounter())

	// A remote write that saw the current value settles any pending
	// conflict on its key.
	keys := frag.Keys()
	for _, key := range keys {
		if !slices.ContainsFunc(divergences, func(dv crdt.Divergence) bool { return dv.Key == key }) {
			c.pipeline.Supersede(key)
		}
	}

	out := []commit{{delta: d, keys: keys}}
	return append(out, c.resolveLocked(divergences)...), nil
}

func (c *Collection) resolveLocked(divergences []crdt.Divergence) []commit {
	if len(divergences) == 0 {
		return nil
	}
	var out []commit
	for _, dec := range c.pipeline.Run(divergences, c.registerLocked) {
		if dec.Resolution.Pending {
			out = append(out, commit{conflict: &dec.Conflict})
			continue
		}
		if !dec.Commit {
			continue
		}
		cm, err := c.writeLocked(dec.Conflict.Key, dec.Resolution.Value, dec.Resolution.Deleted)
		if err != nil {
			c.logger.Error("Conflict rewrite failed", log.String("key", dec.Conflict.Key), log.Error(err))
			continue
		}
		out = append(out, cm)
	}
	return out
}

// registerLocked returns the register holding key in a register based state.
func (c *Collection) registerLocked(key string) *crdt.LWWRegister {
	switch s := c.state.(type) {
	case *crdt.LWWRegister:
		return s
	case *crdt.LWWMap:
		r, _ := s.Entry(key)
		return r
	}
	return nil
}

// writeLocked commits value for key as a new local write.
func (c *Collection) writeLocked(key string, value []byte, deleted bool) (commit, error) {
	cm, _, err := c.commitLocked(func(ts replica.Timestamp, seq uint64) (crdt.State, error) {
		switch s := c.state.(type) {
		case *crdt.LWWRegister:
			if deleted {
				return s.Clear(ts, seq), nil
			}
			return s.Set(value, ts, seq), nil
		case *crdt.LWWMap:
			if deleted {
				return s.Delete(key, ts, seq), nil
			}
			return s.Set(key, value, ts, seq), nil
		}
		return nil, errs.New(errs.CodeIncompatibleType, "write key on "+c.kind.String(), errs.ErrIncompatibleType)
	})
	return cm, err
}

// ApplyFullState merges a peer's entire state. The delta log restarts above
// the adopted vector, so peers behind it are served full states as well.
func (c *Collection) ApplyFullState(_ context.Context, kind crdt.Kind, payload []byte, vv replica.VersionVector, from replica.ID) error {
	if kind != c.kind {
		return errs.New(errs.CodeIncompatibleType, fmt.Sprintf("%s state for %s", kind, c.kind), errs.ErrIncompatibleType).
			WithContext("collection", c.name)
	}
	incoming, err := crdt.Decode(kind, payload)
	if err != nil {
		return errs.New(errs.CodeProtocolViolation, "decode full state", err)
	}

	c.mu.Lock()
	divergences := crdt.Divergences(c.state, incoming, vv, c.tracker.Applied())
	if err = crdt.Merge(c.state, incoming); err != nil {
		c.mu.Unlock()
		return err
	}
	c.owner.clock.Observe(incoming.MaxCounter())
	c.tracker.Adopt(vv)
	c.log.Reset(c.tracker.Applied())

	commits := []commit{{delta: delta.Delta{Origin: from}, keys: incoming.Keys()}}
	for _, origin := range c.tracker.Origins() {
		next, ok := c.tracker.Next(origin)
		if !ok {
			continue
		}
		released, err := c.drainLocked(next)
		commits = append(commits, released...)
		if err != nil {
			c.logger.Warn("Held delta rejected after full state", log.Replica(origin), log.Error(err))
		}
	}
	commits = append(commits, c.resolveLocked(divergences)...)
	c.needsFull.Store(false)
	c.mu.Unlock()

	c.logger.Info("Adopted full state", log.Peer(from), log.Stringer("vector", vv))
	c.persist.snapshot()
	c.publish(commits, from)
	return nil
}

// Vector is the applied version vector.
func (c *Collection) Vector() replica.VersionVector {
	return c.tracker.Applied()
}

func (c *Collection) Digest() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return crdt.Digest(c.state)
}

func (c *Collection) Held() int {
	return c.tracker.Held()
}

func (c *Collection) DeltasSince(vv replica.VersionVector) ([]delta.Delta, error) {
	return c.log.Since(vv)
}

func (c *Collection) FullState() ([]byte, replica.VersionVector, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, err := crdt.Encode(c.state)
	if err != nil {
		return nil, nil, err
	}
	return payload, c.tracker.Applied(), nil
}

func (c *Collection) NeedsFullState() bool {
	return c.needsFull.Load()
}

// compact drops expired deltas from the log.
func (c *Collection) compact() {
	if dropped := c.log.Compact(); len(dropped) > 0 {
		c.logger.Debug("Compacted delta log", log.Int("dropped", len(dropped)))
		c.persist.drop(dropped)
	}
}

// Pending lists conflicts waiting for a user decision.
func (c *Collection) Pending() []conflict.Conflict {
	return c.pipeline.Pending()
}

// Provisional reports errs.ErrConflictPending while key has an unresolved
// conflict. The merged value stays readable in the meantime.
func (c *Collection) Provisional(key string) error {
	for _, p := range c.pipeline.Pending() {
		if p.Key == key {
			return errs.New(errs.CodeConflictPending, "key "+key, errs.ErrConflictPending).WithContext("conflict", p.ID)
		}
	}
	return nil
}

// Resolve settles a pending conflict by committing value as a new local
// write, which every replica then adopts.
func (c *Collection) Resolve(_ context.Context, id string, value []byte, deleted bool) (MutationResult, error) {
	pending, err := c.pipeline.Take(id)
	if err != nil {
		return MutationResult{}, errs.New(errs.CodeNotFound, "conflict "+id, err)
	}

	c.mu.Lock()
	cm, err := c.writeLocked(pending.Key, value, deleted)
	c.mu.Unlock()
	if err != nil {
		return MutationResult{}, err
	}
	c.logger.Info("Conflict resolved by decision", log.String("key", pending.Key), log.String("id", id))
	c.owner.metrics.Conflict(c.name, conflict.UserDecision.String(), "decided")
	c.publish([]commit{cm}, c.owner.id)
	return MutationResult{Seq: cm.delta.Seq, Keys: cm.keys}, nil
}

// Sync runs a push and pull cycle with every connected peer.
func (c *Collection) Sync(ctx context.Context) (sync.Result, error) {
	r := c.owner.replicator()
	if r == nil {
		return sync.Result{Collection: c.name}, errs.New(errs.CodeOffline, "sync "+c.name, errs.ErrOffline)
	}
	return r.Sync(ctx, c.name)
}

func (c *Collection) Status() Status {
	state := sync.Disconnected
	if r := c.owner.replicator(); r != nil {
		state = r.State()
	}
	return Status{
		State:    state,
		Degraded: c.degraded.Load(),
		Pending:  len(c.pipeline.Pending()),
		Held:     c.tracker.Held(),
		Vector:   c.tracker.Applied(),
	}
}

// Subscribe registers fn for every Change of this collection.
func (c *Collection) Subscribe(fn func(Change)) (bus.Subscription, error) {
	return c.owner.events.Subscribe(c.name, bus.TypeChange, func(e bus.Event) error {
		if ch, ok := e.Data.(Change); ok {
			fn(ch)
		}
		return nil
	})
}

// Watch streams changes until ctx ends. Changes are dropped while the
// consumer lags more than buffer events behind.
func (c *Collection) Watch(ctx context.Context, buffer int) (<-chan Change, error) {
	out := make(chan Change, max(buffer, 1))
	sub, err := c.Subscribe(func(ch Change) {
		select {
		case out <- ch:
		default:
			c.logger.Debug("Watcher lagging, change dropped", log.String("key", ch.Key))
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Cancel()
	}()
	return out, nil
}

// publish persists, notifies and forwards committed changes, outside the lock.
func (c *Collection) publish(commits []commit, from replica.ID) {
	if len(commits) == 0 {
		return
	}
	for _, cm := range commits {
		if cm.delta.Seq > 0 {
			c.persist.append(cm.delta)
		}
	}

	for _, cm := range commits {
		if cm.conflict != nil {
			c.publishConflict(*cm.conflict)
		}
		for _, key := range cm.keys {
			ch := Change{Collection: c.name, Key: key, Origin: cm.delta.Origin, Seq: cm.delta.Seq, Local: cm.local}
			if err := c.owner.events.Publish(c.name, bus.NewEvent(bus.TypeChange, c.name, ch)); err != nil {
				c.logger.Warn("Change handler failed", log.String("key", key), log.Error(err))
			}
		}
	}

	hook := c.owner.hook()
	if hook == nil {
		return
	}
	for _, cm := range commits {
		if cm.delta.Seq == 0 {
			continue
		}
		if cm.local {
			hook(cm.delta, c.owner.id)
		} else {
			hook(cm.delta, from)
		}
	}
}

func (c *Collection) publishConflict(p conflict.Conflict) {
	if err := c.owner.events.Publish(c.name, bus.NewEvent(bus.TypeConflict, c.name, p)); err != nil {
		c.logger.Warn("Conflict handler failed", log.String("key", p.Key), log.Error(err))
	}
}

// markDegraded flips the degraded flag and logs transitions only.
func (c *Collection) markDegraded(degraded bool, cause error) {
	if c.degraded.Swap(degraded) == degraded {
		return
	}
	if degraded {
		c.logger.Error("Persistence failing, collection degraded", log.Error(cause))
	} else {
		c.logger.Info("Persistence recovered")
	}
	_ = c.owner.events.Publish(c.name, bus.NewEvent(bus.TypeStatus, c.name, c.Status()))
}
