package injector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
)

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	return cfg
}

func TestInitializeNodeInMemory(t *testing.T) {
	cfg := quietConfig()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Replica.ID = "00000000-0000-0000-0000-00000000000a"

	node, cleanup, err := InitializeNode(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, cfg.Replica.ID, node.Manager().ID().String())
	assert.Equal(t, node.Manager().ID(), node.Engine().ID())
	assert.Empty(t, node.Peers())
}

func TestManagerSurvivesRestart(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := quietConfig()
			cfg.Storage.Backend = backend
			cfg.Storage.Path = filepath.Join(t.TempDir(), "replica")
			ctx := context.Background()

			m, cleanup, err := InitializeManager(ctx, cfg)
			require.NoError(t, err)
			id := m.ID()
			c, err := m.CreateCollection(ctx, "notes", crdt.KindLWWMap)
			require.NoError(t, err)
			_, err = c.Mutate(ctx, manager.Put("a", []byte("1")))
			require.NoError(t, err)
			cleanup()

			m, cleanup, err = InitializeManager(ctx, cfg)
			require.NoError(t, err)
			defer cleanup()
			assert.Equal(t, id, m.ID(), "replica id is persisted")

			c, err = m.Get("notes")
			require.NoError(t, err)
			v, ok := c.Snapshot().(*crdt.LWWMap).Get("a")
			require.True(t, ok)
			assert.Equal(t, "1", string(v))
		})
	}
}

func TestInitializeRejectsBadStrategy(t *testing.T) {
	cfg := quietConfig()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Sync.Strategy = "coin_flip"

	_, _, err := InitializeManager(context.Background(), cfg)
	require.Error(t, err)
}
