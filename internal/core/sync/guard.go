package sync

import (
	"context"
	sc "sync"
)

// guard serializes sync cycles per collection across every session.
type guard struct {
	mu    sc.Mutex
	slots map[string]chan struct{}
}

func (g *guard) lock(ctx context.Context, name string) (func(), error) {
	g.mu.Lock()
	if g.slots == nil {
		g.slots = make(map[string]chan struct{})
	}
	slot, ok := g.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		g.slots[name] = slot
	}
	g.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
