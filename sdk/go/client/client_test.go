package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/protocol/websocket"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/injector"
	"github.com/zeusync/crdtsync/internal/server"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func startHub(t *testing.T) *server.Node {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Storage.Backend = config.BackendMemory
	cfg.Replica.AutoCreate = true
	cfg.Sync.HeartbeatInterval = 50 * time.Millisecond
	cfg.Transport.Listen = []config.ListenerConfig{{Kind: config.TransportWebsocket, Addr: "127.0.0.1:0"}}

	hub, cleanup, err := injector.InitializeNode(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() {
		_ = hub.Stop(context.Background())
		cleanup()
	})
	return hub
}

func testConfig() Config {
	cfg := DefaultClientConfig()
	cfg.LogLevel = "error"
	cfg.HeartbeatInterval = 50 * time.Millisecond
	return cfg
}

func TestLocalFirstWithoutServers(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, testConfig())
	require.NoError(t, err)

	todo, err := c.Create(ctx, "todo", Sequence)
	require.NoError(t, err)
	_, err = todo.Mutate(ctx, manager.Append([]byte("milk")))
	require.NoError(t, err)

	assert.Equal(t, []string{"todo"}, c.Collections())
	assert.False(t, c.IsConnected())

	got, err := c.Collection("todo")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Snapshot().(*crdt.Sequence).Len())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Collection("todo")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestReplicatesThroughHub(t *testing.T) {
	hub := startHub(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.Servers = []string{"ws://" + hub.Addrs()[0] + websocket.Path}
	c, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()

	settings, err := c.Create(ctx, "settings", Map)
	require.NoError(t, err)
	_, err = settings.Mutate(ctx, manager.Put("theme", []byte("dark")))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		hc, err := hub.Manager().Get("settings")
		if err != nil {
			return false
		}
		v, ok := hc.Snapshot().(*crdt.LWWMap).Get("theme")
		return ok && string(v) == "dark"
	}, waitFor, tick)
	require.Eventually(t, c.IsConnected, waitFor, tick)

	disconnected := make(chan Event, 1)
	require.NoError(t, c.OnEvent(EventTypeDisconnected, func(ev Event) error {
		select {
		case disconnected <- ev:
		default:
		}
		return nil
	}))
	require.NoError(t, hub.Stop(ctx))

	select {
	case ev := <-disconnected:
		assert.NotEmpty(t, ev.Session)
	case <-time.After(waitFor):
		t.Fatal("no disconnected event")
	}
}

func TestReopenFromDataDir(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "replica")

	c, err := Open(ctx, cfg)
	require.NoError(t, err)
	id := c.ID()
	hits, err := c.Create(ctx, "hits", Counter)
	require.NoError(t, err)
	_, err = hits.Mutate(ctx, manager.Increment(3))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, id, c.ID())
	hits, err = c.Collection("hits")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), hits.Snapshot().(*crdt.GCounter).Value())
}

func TestServerEndpoints(t *testing.T) {
	peer, err := peerFor("quic://127.0.0.1:7443", true)
	require.NoError(t, err)
	assert.Equal(t, config.PeerConfig{Kind: config.TransportQUIC, Endpoint: "127.0.0.1:7443", Insecure: true}, peer)

	peer, err = peerFor("wss://hub.example.com/sync", false)
	require.NoError(t, err)
	assert.Equal(t, config.TransportWebsocket, peer.Kind)
	assert.Equal(t, "wss://hub.example.com/sync", peer.Endpoint)

	for _, bad := range []string{"http://hub", "quic://", "::"} {
		_, err = peerFor(bad, false)
		assert.ErrorIs(t, err, ErrInvalidServer, bad)
	}

	cfg := testConfig()
	cfg.Servers = []string{"tcp://nowhere"}
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidServer)
}

func TestUnknownEvent(t *testing.T) {
	c, err := Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer c.Close()
	assert.ErrorIs(t, c.OnEvent("bogus", func(Event) error { return nil }), ErrUnknownEvent)
}
