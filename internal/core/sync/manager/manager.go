// Package manager owns the collections of one replica and is the surface
// applications program against: create, mutate, read, subscribe, sync.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	sc "sync"
	"time"

	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/sync"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

var _ sync.Source = (*Manager)(nil)

// MaxNameLength bounds collection names.
const MaxNameLength = 256

var ErrInvalidName = errors.New("invalid collection name")

// Replicator is what the manager needs from the sync engine.
type Replicator interface {
	Sync(ctx context.Context, name string) (sync.Result, error)
	State() sync.State
}

type Config struct {
	// BufferSize bounds held out-of-order deltas per collection.
	BufferSize int
	LogGrace   time.Duration
	LogLimit   int
	// CompactInterval is how often delta logs are compacted.
	CompactInterval time.Duration
	// SaveRetryInterval is how often a failed save is retried.
	SaveRetryInterval time.Duration
	Strategy          conflict.StrategyKind
	Policy            crdt.Policy
	// AutoCreate lets peers introduce collections this replica lacks.
	AutoCreate bool
}

func DefaultConfig() Config {
	return Config{
		BufferSize:        1024,
		LogGrace:          24 * time.Hour,
		LogLimit:          10000,
		CompactInterval:   time.Minute,
		SaveRetryInterval: 5 * time.Second,
		Strategy:          conflict.LastWriteWins,
		Policy:            crdt.AddWins,
	}
}

type collectionOptions struct {
	policy   crdt.Policy
	strategy conflict.StrategyKind
	resolver conflict.ResolverFunc
}

type CollectionOption func(*collectionOptions)

// WithPolicy picks add-wins or remove-wins for graph and tree collections.
func WithPolicy(p crdt.Policy) CollectionOption {
	return func(o *collectionOptions) { o.policy = p }
}

func WithStrategy(k conflict.StrategyKind) CollectionOption {
	return func(o *collectionOptions) { o.strategy = k }
}

// WithResolver selects CustomFunction with fn.
func WithResolver(fn conflict.ResolverFunc) CollectionOption {
	return func(o *collectionOptions) {
		o.strategy = conflict.CustomFunction
		o.resolver = fn
	}
}

type Option func(*Manager)

func WithMetrics(m sync.MetricsCollector) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

func WithEvents(b bus.EventBus) Option {
	return func(mgr *Manager) {
		if b != nil {
			mgr.events = b
		}
	}
}

// WithReplicaID overrides the persisted replica id.
func WithReplicaID(id replica.ID) Option {
	return func(mgr *Manager) { mgr.id = id }
}

// WithResolvers supplies resolvers for reloaded CustomFunction collections,
// which cannot be persisted.
func WithResolvers(resolvers map[string]conflict.ResolverFunc) Option {
	return func(mgr *Manager) { mgr.resolvers = resolvers }
}

// Manager holds every collection of a replica.
type Manager struct {
	id        replica.ID
	clock     *replica.Clock
	store     storage.Storage
	cfg       Config
	logger    log.Log
	metrics   sync.MetricsCollector
	events    bus.EventBus
	resolvers map[string]conflict.ResolverFunc

	mu          sc.RWMutex
	collections map[string]*Collection
	onDelta     func(d delta.Delta, from replica.ID)
	repl        Replicator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sc.WaitGroup
}

// Open loads the replica id and every collection found in store.
func Open(ctx context.Context, store storage.Storage, cfg Config, logger log.Log, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.CompactInterval <= 0 {
		cfg.CompactInterval = def.CompactInterval
	}
	if cfg.SaveRetryInterval <= 0 {
		cfg.SaveRetryInterval = def.SaveRetryInterval
	}

	m := &Manager{
		store:       store,
		cfg:         cfg,
		logger:      logger.With(log.Component("manager")),
		metrics:     sync.NopMetrics{},
		events:      bus.New(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadReplica(ctx); err != nil {
		return nil, err
	}
	m.clock = replica.NewClock(m.id)
	m.logger = m.logger.With(log.Replica(m.id))
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if err := m.load(ctx); err != nil {
		m.cancel()
		return nil, err
	}

	m.wg.Add(1)
	go m.compactLoop()
	m.logger.Info("Collection manager ready", log.Int("collections", len(m.collections)))
	return m, nil
}

func (m *Manager) loadReplica(ctx context.Context) error {
	if !m.id.IsZero() {
		return m.store.Set(ctx, replicaKey, []byte(m.id.String()))
	}
	data, err := m.store.Get(ctx, replicaKey)
	switch {
	case err == nil:
		m.id, err = replica.ParseID(string(data))
		return err
	case storage.IsNotFound(err):
		m.id = replica.NewID()
		return m.store.Set(ctx, replicaKey, []byte(m.id.String()))
	default:
		return err
	}
}

func (m *Manager) load(ctx context.Context) error {
	keys, err := m.store.Keys(ctx, collectionPrefix+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		name, ok := nameFromMetaKey(key)
		if !ok {
			continue
		}
		data, err := m.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var desc meta
		if err = json.Unmarshal(data, &desc); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		kind, o, err := desc.options()
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if o.strategy == conflict.CustomFunction {
			if o.resolver = m.resolvers[name]; o.resolver == nil {
				m.logger.Warn("No resolver for reloaded collection, using last write wins", log.Collection(name))
				o.strategy = conflict.LastWriteWins
			}
		}

		c, err := newCollection(m, name, kind, o)
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if err = restore(ctx, m.store, c); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		m.collections[name] = c
		m.start(c)
		m.logger.Debug("Collection loaded", log.Collection(name), log.Stringer("vector", c.Vector()))
	}
	return nil
}

func (m *Manager) start(c *Collection) {
	c.persist.start(m.ctx, m.cfg.SaveRetryInterval, &m.wg)
}

func (m *Manager) compactLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			for _, c := range m.list() {
				c.compact()
			}
		}
	}
}

func (m *Manager) ID() replica.ID { return m.id }

// Events is the bus change notifications are published on. Each collection
// publishes under its own name.
func (m *Manager) Events() bus.EventBus { return m.events }

func validName(name string) error {
	if name == "" || len(name) > MaxNameLength || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CreateCollection creates an empty collection of kind.
func (m *Manager) CreateCollection(ctx context.Context, name string, kind crdt.Kind, opts ...CollectionOption) (*Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	o := collectionOptions{policy: m.cfg.Policy, strategy: m.cfg.Strategy}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	if _, ok := m.collections[name]; ok {
		m.mu.Unlock()
		return nil, errs.New(errs.CodeAlreadyExists, "collection "+name, errs.ErrAlreadyExists)
	}
	c, err := newCollection(m, name, kind, o)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.collections[name] = c
	m.mu.Unlock()

	if err = saveMeta(ctx, m.store, c); err != nil {
		c.markDegraded(true, err)
	}
	c.persist.snapshot()
	m.start(c)
	m.logger.Info("Collection created", log.Collection(name), log.Stringer("kind", kind))
	return c, nil
}

// Get returns the named collection or errs.ErrNotFound.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "collection "+name, errs.ErrNotFound)
	}
	return c, nil
}

// List returns collection names in order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Manager) list() []*Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Collection) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return out
}

// Drop deletes a collection locally, including its stored data. Peers keep
// their copies.
func (m *Manager) Drop(ctx context.Context, name string) error {
	m.mu.Lock()
	c, ok := m.collections[name]
	delete(m.collections, name)
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.CodeNotFound, "collection "+name, errs.ErrNotFound)
	}
	m.events.DropTopic(name)

	c.persist.discard.Store(true)
	c.persist.stop()
	c.persist.saveMu.Lock()
	defer c.persist.saveMu.Unlock()
	keys, err := m.store.Keys(ctx, storage.Key(collectionPrefix, name)+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err = m.store.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
			return err
		}
	}
	m.logger.Info("Collection dropped", log.Collection(name))
	return nil
}

// SyncAll syncs every collection concurrently. One failure does not stop
// the others; the results of successful cycles are returned alongside the
// joined errors.
func (m *Manager) SyncAll(ctx context.Context) ([]sync.Result, error) {
	collections := m.list()
	results, failures := concurrent.Collect(ctx, collections, 0, func(ctx context.Context, c *Collection) (sync.Result, error) {
		return c.Sync(ctx)
	})
	out := make([]sync.Result, 0, len(results))
	for i, r := range results {
		if failures[i] == nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(failures...)
}

// Flush writes every collection now.
func (m *Manager) Flush(ctx context.Context) error {
	return concurrent.Each(ctx, m.list(), 0, func(ctx context.Context, c *Collection) error {
		return c.persist.save(ctx)
	})
}

// Attach connects the manager to the engine that replicates it.
func (m *Manager) Attach(r Replicator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repl = r
}

func (m *Manager) replicator() Replicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repl
}

func (m *Manager) hook() func(delta.Delta, replica.ID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onDelta
}

// Lookup implements sync.Source.
func (m *Manager) Lookup(name string) (sync.Syncable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, false
	}
	return c, true
}

// Ensure implements sync.Source. Unknown collections are only created when
// AutoCreate is set.
func (m *Manager) Ensure(name string, kind crdt.Kind) (sync.Syncable, error) {
	if c, ok := m.Lookup(name); ok {
		return c, nil
	}
	if !m.cfg.AutoCreate {
		return nil, errs.New(errs.CodeNotFound, "collection "+name, errs.ErrNotFound)
	}
	c, err := m.CreateCollection(m.ctx, name, kind)
	if errors.Is(err, errs.ErrAlreadyExists) {
		c, err = m.Get(name)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// All implements sync.Source.
func (m *Manager) All() []sync.Syncable {
	collections := m.list()
	out := make([]sync.Syncable, len(collections))
	for i, c := range collections {
		out[i] = c
	}
	return out
}

// OnDelta implements sync.Source.
func (m *Manager) OnDelta(fn func(d delta.Delta, from replica.ID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDelta = fn
}

// Close stops background work after a final save of every collection.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Collection manager closed")
	return nil
}
