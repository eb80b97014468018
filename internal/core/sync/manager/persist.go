package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	sc "sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/storage"
)

// Storage layout:
//
//	replica/id                 replica id of this node
//	c/<name>/meta              kind, policy and strategy as JSON
//	c/<name>/state             encoded state
//	c/<name>/vv                applied version vector
//	c/<name>/floor             delta log floor
//	c/<name>/d/<origin>/<seq>  retained deltas
const (
	collectionPrefix = "c"
	replicaKey       = "replica/id"
)

func metaKey(name string) string   { return storage.Key(collectionPrefix, name, "meta") }
func stateKey(name string) string  { return storage.Key(collectionPrefix, name, "state") }
func vectorKey(name string) string { return storage.Key(collectionPrefix, name, "vv") }
func floorKey(name string) string  { return storage.Key(collectionPrefix, name, "floor") }

func deltaPrefix(name string) string {
	return storage.Key(collectionPrefix, name, "d") + "/"
}

func deltaKey(name string, k delta.Key) string {
	return deltaPrefix(name) + storage.Key(k.Origin.String(), fmt.Sprintf("%020d", k.Seq))
}

// nameFromMetaKey extracts the collection name of a meta key.
func nameFromMetaKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, collectionPrefix+"/")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, "/meta")
}

type meta struct {
	Kind     string `json:"kind"`
	Policy   string `json:"policy"`
	Strategy string `json:"strategy"`
}

func (c *Collection) meta() meta {
	return meta{Kind: c.kind.String(), Policy: c.policy.String(), Strategy: c.strategy.String()}
}

func (m meta) options() (crdt.Kind, collectionOptions, error) {
	kind, err := crdt.ParseKind(m.Kind)
	if err != nil {
		return kind, collectionOptions{}, err
	}
	policy, err := crdt.ParsePolicy(m.Policy)
	if err != nil {
		return kind, collectionOptions{}, err
	}
	strategy, err := conflict.ParseStrategy(m.Strategy)
	if err != nil {
		return kind, collectionOptions{}, err
	}
	return kind, collectionOptions{policy: policy, strategy: strategy}, nil
}

// persister writes a collection behind its back. Writes of one collection
// never overlap; a failed write keeps everything queued for the next round
// and marks the collection degraded.
type persister struct {
	c      *Collection
	store  storage.Storage
	logger log.Log
	kick   chan struct{}

	mu      sc.Mutex
	pending []delta.Delta
	dropped []delta.Key
	dirty   bool

	saveMu  sc.Mutex
	discard atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newPersister(c *Collection, store storage.Storage, logger log.Log) *persister {
	return &persister{
		c:      c,
		store:  store,
		logger: logger.With(log.Component("persist"), log.Collection(c.name)),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// start runs the save loop until parent ends or stop is called. wg is
// released when the loop returns.
func (p *persister) start(parent context.Context, interval time.Duration, wg *sc.WaitGroup) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(p.done)
		defer cancel()
		p.run(ctx, interval)
	}()
}

// stop ends the save loop and waits for it.
func (p *persister) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *persister) append(d delta.Delta) {
	p.mu.Lock()
	p.pending = append(p.pending, d)
	p.dirty = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) drop(keys []delta.Key) {
	p.mu.Lock()
	p.dropped = append(p.dropped, keys...)
	p.dirty = true
	p.mu.Unlock()
	p.signal()
}

// snapshot schedules a state write without new deltas.
func (p *persister) snapshot() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// run saves on every kick and retries a failed save every interval. The last
// save happens after ctx ends.
func (p *persister) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.save(flushCtx)
			cancel()
			return
		case <-p.kick:
		case <-ticker.C:
		}
		_ = p.save(ctx)
	}
}

func (p *persister) save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	if p.discard.Load() {
		return nil
	}

	p.mu.Lock()
	pending, dropped, dirty := p.pending, p.dropped, p.dirty
	p.pending, p.dropped, p.dirty = nil, nil, false
	p.mu.Unlock()
	if !dirty {
		return nil
	}

	err := p.write(ctx, pending, dropped)
	if err != nil {
		p.mu.Lock()
		p.pending = append(pending, p.pending...)
		p.dropped = append(dropped, p.dropped...)
		p.dirty = true
		p.mu.Unlock()
		p.c.markDegraded(true, err)
		return err
	}
	p.c.markDegraded(false, nil)
	return nil
}

func (p *persister) write(ctx context.Context, pending []delta.Delta, dropped []delta.Key) error {
	c := p.c
	c.mu.RLock()
	payload, err := crdt.Encode(c.state)
	vv := c.tracker.Applied()
	floor := c.log.Floor()
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	entries := make(map[string][]byte, len(pending)+3)
	entries[stateKey(c.name)] = payload
	if entries[vectorKey(c.name)], err = msgpack.Marshal(vv); err != nil {
		return err
	}
	if entries[floorKey(c.name)], err = msgpack.Marshal(floor); err != nil {
		return err
	}
	for _, d := range pending {
		if d.Seq <= floor.Get(d.Origin) {
			continue
		}
		if entries[deltaKey(c.name, d.Key())], err = msgpack.Marshal(d); err != nil {
			return err
		}
	}
	if err = p.store.SetBatch(ctx, entries); err != nil {
		return err
	}

	for _, k := range dropped {
		if err = p.store.Delete(ctx, deltaKey(c.name, k)); err != nil && !storage.IsNotFound(err) {
			return err
		}
	}
	p.logger.Debug("Collection saved", log.Int("deltas", len(pending)), log.Int("dropped", len(dropped)))
	return nil
}

// saveMeta writes the collection descriptor synchronously.
func saveMeta(ctx context.Context, store storage.Storage, c *Collection) error {
	data, err := json.Marshal(c.meta())
	if err != nil {
		return err
	}
	return store.Set(ctx, metaKey(c.name), data)
}

// restore loads what persist wrote for c.
func restore(ctx context.Context, store storage.Storage, c *Collection) error {
	values, err := store.GetBatch(ctx, []string{stateKey(c.name), vectorKey(c.name), floorKey(c.name)})
	if err != nil {
		return err
	}

	if data, ok := values[stateKey(c.name)]; ok {
		state, err := crdt.Decode(c.kind, data)
		if err != nil {
			return err
		}
		c.state = state
		c.owner.clock.Observe(state.MaxCounter())
	}
	vv := replica.NewVersionVector()
	if data, ok := values[vectorKey(c.name)]; ok {
		if err = msgpack.Unmarshal(data, &vv); err != nil {
			return err
		}
	}
	floor := replica.NewVersionVector()
	if data, ok := values[floorKey(c.name)]; ok {
		if err = msgpack.Unmarshal(data, &floor); err != nil {
			return err
		}
	}

	keys, err := store.Keys(ctx, deltaPrefix(c.name))
	if err != nil {
		return err
	}
	stored, err := store.GetBatch(ctx, keys)
	if err != nil {
		return err
	}
	deltas := make([]delta.Delta, 0, len(stored))
	for key, data := range stored {
		var d delta.Delta
		if err = msgpack.Unmarshal(data, &d); err != nil {
			c.logger.Warn("Skipping unreadable delta", log.String("key", key), log.Error(err))
			continue
		}
		if d.Seq <= vv.Get(d.Origin) {
			deltas = append(deltas, d)
		}
	}

	c.tracker.Adopt(vv)
	c.log.Restore(floor, deltas)
	return nil
}
