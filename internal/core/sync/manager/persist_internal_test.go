package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/storage/memory"
)

func TestDropStopsSaveLoop(t *testing.T) {
	ctx := context.Background()
	store := memory.New(0)
	m, err := Open(ctx, store, DefaultConfig(), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	dropped, err := m.CreateCollection(ctx, "dropped", crdt.KindLWWMap)
	require.NoError(t, err)
	kept, err := m.CreateCollection(ctx, "kept", crdt.KindLWWMap)
	require.NoError(t, err)

	require.NoError(t, m.Drop(ctx, "dropped"))
	select {
	case <-dropped.persist.done:
	case <-time.After(time.Second):
		t.Fatal("save loop of a dropped collection still running")
	}

	// late writes through a stale handle are not stored
	_, err = dropped.Mutate(ctx, Put("k", []byte("v")))
	require.NoError(t, err)
	keys, err := store.Keys(ctx, "c/dropped/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	select {
	case <-kept.persist.done:
		t.Fatal("save loop of a live collection stopped")
	default:
	}
	_, err = kept.Mutate(ctx, Put("k", []byte("v")))
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))
	keys, err = store.Keys(ctx, "c/kept/")
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
}
