package conflict

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

// Decision is the pipeline output for one conflict. Commit is set when the
// resolved value differs from what the merge produced, in which case the
// owner writes it back as a new local write so every replica adopts it.
type Decision struct {
	Conflict   Conflict
	Resolution Resolution
	Commit     bool
}

// Observer is notified after each decision.
type Observer func(strategy StrategyKind, outcome string)

// Pipeline applies one strategy to the conflicts of one collection and keeps
// the queue of conflicts waiting for a user decision.
type Pipeline struct {
	collection string
	kind       crdt.Kind
	strategy   Strategy
	logger     log.Log
	observer   Observer

	mu      sync.Mutex
	pending []Conflict
}

func NewPipeline(collection string, kind crdt.Kind, strategy Strategy, logger log.Log) *Pipeline {
	if strategy == nil {
		strategy = lastWriteWins{}
	}
	return &Pipeline{
		collection: collection,
		kind:       kind,
		strategy:   strategy,
		logger:     logger.With(log.Component("conflict"), log.Collection(collection)),
	}
}

func (p *Pipeline) Strategy() StrategyKind {
	return p.strategy.Kind()
}

func (p *Pipeline) SetObserver(obs Observer) {
	p.observer = obs
}

// Run resolves divergences found while applying a delta. current returns the
// register for key after the merge.
func (p *Pipeline) Run(divergences []crdt.Divergence, current func(key string) *crdt.LWWRegister) []Decision {
	out := make([]Decision, 0, len(divergences))
	for _, d := range divergences {
		c := Conflict{
			ID:         uuid.NewString(),
			Collection: p.collection,
			Kind:       p.kind,
			Key:        d.Key,
			Category:   categorize(d),
			Local:      d.Local,
			Remote:     d.Remote,
			DetectedAt: time.Now(),
		}
		res := p.strategy.Resolve(c)
		dec := Decision{Conflict: c, Resolution: res}

		switch {
		case res.Pending:
			p.enqueue(c)
			p.notify(res.Strategy, "pending")
			p.logger.Info("Conflict queued for decision",
				log.String("key", c.Key),
				log.String("id", c.ID),
				log.Stringer("category", c.Category),
			)
		default:
			cur := current(c.Key)
			dec.Commit = cur == nil || cur.Deleted != res.Deleted || !bytes.Equal(cur.Value, res.Value)
			outcome := "merged"
			if dec.Commit {
				outcome = "rewritten"
			}
			p.notify(res.Strategy, outcome)
			p.logger.Debug("Conflict resolved",
				log.String("key", c.Key),
				log.Stringer("strategy", res.Strategy),
				log.Bool("commit", dec.Commit),
			)
		}
		out = append(out, dec)
	}
	return out
}

func categorize(d crdt.Divergence) Category {
	if d.Local.Deleted != d.Remote.Deleted {
		return UpdateDelete
	}
	return ConcurrentUpdate
}

func (p *Pipeline) notify(strategy StrategyKind, outcome string) {
	if p.observer != nil {
		p.observer(strategy, outcome)
	}
}

// enqueue keeps at most one pending conflict per key; a newer conflict on the
// same key replaces the older one.
func (p *Pipeline) enqueue(c Conflict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.pending {
		if cur.Key == c.Key {
			p.pending[i] = c
			return
		}
	}
	p.pending = append(p.pending, c)
}

// Pending returns the queued conflicts in arrival order.
func (p *Pipeline) Pending() []Conflict {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Conflict, len(p.pending))
	copy(out, p.pending)
	return out
}

// Take removes a pending conflict so that the caller can commit a decision.
func (p *Pipeline) Take(id string) (Conflict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.pending {
		if c.ID == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return c, nil
		}
	}
	return Conflict{}, ErrUnknownConflict
}

// Supersede drops pending conflicts on key, used when a local write settles it.
func (p *Pipeline) Supersede(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = slicesDeleteKey(p.pending, key)
}

func slicesDeleteKey(in []Conflict, key string) []Conflict {
	out := in[:0]
	for _, c := range in {
		if c.Key != key {
			out = append(out, c)
		}
	}
	return out
}
