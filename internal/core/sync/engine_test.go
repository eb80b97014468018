package sync_test

import (
	"context"
	"errors"
	"slices"
	sc "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/protocol/memory"
	"github.com/zeusync/crdtsync/internal/core/replica"
	storagemem "github.com/zeusync/crdtsync/internal/core/storage/memory"
	"github.com/zeusync/crdtsync/internal/core/sync"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var (
	hubID = replica.MustParseID("00000000-0000-0000-0000-000000000001")
	idB   = replica.MustParseID("00000000-0000-0000-0000-00000000000b")
	idC   = replica.MustParseID("00000000-0000-0000-0000-00000000000c")
)

func fastConfig() sync.Config {
	return sync.Config{
		HeartbeatInterval: 20 * time.Millisecond,
		MissedHeartbeats:  3,
		Backoff: concurrent.Backoff{
			Initial:     10 * time.Millisecond,
			Max:         40 * time.Millisecond,
			Multiplier:  2,
			MaxAttempts: 5,
		},
		SyncTimeout:   2 * time.Second,
		OutboundQueue: 256,
		MaxViolations: 3,
	}
}

type node struct {
	m *manager.Manager
	e *sync.Engine
}

func newNode(t *testing.T, id replica.ID, cfg sync.Config, opts ...sync.Option) node {
	t.Helper()
	mcfg := manager.DefaultConfig()
	mcfg.AutoCreate = true
	m, err := manager.Open(context.Background(), storagemem.New(0), mcfg, log.Nop(), manager.WithReplicaID(id))
	require.NoError(t, err)

	e := sync.NewEngine(m.ID(), m, protocol.MsgpackCodec{}, cfg, log.Nop(), opts...)
	m.Attach(e)
	t.Cleanup(func() {
		e.Close()
		_ = m.Close()
	})
	return node{m: m, e: e}
}

// serve makes n reachable on net under name.
func serve(t *testing.T, net *memory.Network, name string, n node) {
	t.Helper()
	l, err := net.Listen(name)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.e.Serve(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		_ = l.Close()
		<-done
	})
}

func collection(t *testing.T, n node, name string, kind crdt.Kind) *manager.Collection {
	t.Helper()
	c, err := n.m.CreateCollection(context.Background(), name, kind)
	require.NoError(t, err)
	return c
}

func mapValue(n node, name, key string) string {
	c, err := n.m.Get(name)
	if err != nil {
		return ""
	}
	v, _ := c.Snapshot().(*crdt.LWWMap).Get(key)
	return string(v)
}

func counterValue(n node, name string) uint64 {
	c, err := n.m.Get(name)
	if err != nil {
		return 0
	}
	return c.Snapshot().(*crdt.GCounter).Value()
}

func TestOfflineEditsReachHubAndBack(t *testing.T) {
	net := memory.NewNetwork()
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	client := newNode(t, idB, fastConfig())
	todos := collection(t, client, "todos", crdt.KindLWWMap)
	_, err := todos.Mutate(context.Background(), manager.Put("milk", []byte("2l")))
	require.NoError(t, err)

	s, err := client.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mapValue(hub, "todos", "milk") == "2l" }, waitFor, tick)
	require.Eventually(t, func() bool { return s.State() == sync.Synced }, waitFor, tick)
	assert.Equal(t, hubID, s.Peer())

	remote, err := hub.m.Get("todos")
	require.NoError(t, err)
	_, err = remote.Mutate(context.Background(), manager.Put("eggs", []byte("12")))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mapValue(client, "todos", "eggs") == "12" }, waitFor, tick)
	require.Eventually(t, func() bool { return remote.Vector().Equal(todos.Vector()) }, waitFor, tick)
}

func TestHubRelaysBetweenClients(t *testing.T) {
	net := memory.NewNetwork()
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	b := newNode(t, idB, fastConfig())
	c := newNode(t, idC, fastConfig())
	counterB := collection(t, b, "clicks", crdt.KindGCounter)
	counterC := collection(t, c, "clicks", crdt.KindGCounter)

	for _, n := range []node{b, c} {
		_, err := n.e.Dial(net.Dialer(), "hub")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return b.e.State() == sync.Synced && c.e.State() == sync.Synced
	}, waitFor, tick)

	ctx := context.Background()
	_, err := counterB.Mutate(ctx, manager.Increment(3))
	require.NoError(t, err)
	_, err = counterC.Mutate(ctx, manager.Increment(5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return counterValue(hub, "clicks") == 8 && counterValue(b, "clicks") == 8 && counterValue(c, "clicks") == 8
	}, waitFor, tick)
}

func TestDuplicatedFramesApplyOnce(t *testing.T) {
	net := memory.NewNetwork()
	net.Duplicate(true)
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	client := newNode(t, idB, fastConfig())
	clicks := collection(t, client, "clicks", crdt.KindGCounter)
	_, err := client.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)

	for range 5 {
		_, err = clicks.Mutate(context.Background(), manager.Increment(1))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return counterValue(hub, "clicks") == 5 }, waitFor, tick)

	// a few heartbeat rounds later nothing was applied twice
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint64(5), counterValue(hub, "clicks"))
	assert.Equal(t, uint64(5), counterValue(client, "clicks"))
}

func TestHeartbeatLossResetsLink(t *testing.T) {
	net := memory.NewNetwork()
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	client := newNode(t, idB, fastConfig())
	todos := collection(t, client, "todos", crdt.KindLWWMap)
	s, err := client.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == sync.Synced }, waitFor, tick)

	net.Partition(true)
	require.Eventually(t, func() bool { return !s.State().Linked() }, waitFor, tick)

	_, err = todos.Mutate(context.Background(), manager.Put("while", []byte("away")))
	require.NoError(t, err)
	assert.Empty(t, mapValue(hub, "todos", "while"))

	net.Partition(false)
	s.Reconnect()
	require.Eventually(t, func() bool { return mapValue(hub, "todos", "while") == "away" }, waitFor, tick)
	require.Eventually(t, func() bool { return s.State() == sync.Synced }, waitFor, tick)
}

func TestOfflineAfterBackoffThenReconnect(t *testing.T) {
	net := memory.NewNetwork()
	client := newNode(t, idB, fastConfig())
	collection(t, client, "todos", crdt.KindLWWMap)

	s, err := client.e.Dial(net.Dialer(), "later")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == sync.Offline }, waitFor, tick)
	assert.Equal(t, sync.Offline, client.e.State())

	_, err = client.e.Sync(context.Background(), "todos")
	require.ErrorIs(t, err, errs.ErrOffline)

	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "later", hub)
	s.Reconnect()
	require.Eventually(t, func() bool { return s.State() == sync.Synced }, waitFor, tick)

	res, err := client.e.Sync(context.Background(), "todos")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Peers)
	assert.Equal(t, "todos", res.Collection)
}

func TestSyncWithoutSessions(t *testing.T) {
	client := newNode(t, idB, fastConfig())
	todos := collection(t, client, "todos", crdt.KindLWWMap)

	_, err := todos.Sync(context.Background())
	require.ErrorIs(t, err, errs.ErrOffline)
	assert.Equal(t, errs.CodeOffline, errs.Code(err))

	_, err = client.e.Sync(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, sync.Disconnected, client.e.State())
}

func TestPeerRoster(t *testing.T) {
	net := memory.NewNetwork()
	auth := func(_ replica.ID, join protocol.PeerJoin) error {
		if join.Credential != "secret" {
			return errors.New("bad credential")
		}
		return nil
	}
	hub := newNode(t, hubID, fastConfig(), sync.WithAuthenticator(auth))
	serve(t, net, "hub", hub)

	good := newNode(t, idB, fastConfig(), sync.WithIdentity(map[string]string{"user": "bob"}, "secret"))
	_, err := good.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(hub.e.Peers()) == 1 }, waitFor, tick)
	peer := hub.e.Peers()[0]
	assert.Equal(t, idB, peer.ID)
	assert.Equal(t, "bob", peer.UserInfo["user"])

	bad := newNode(t, idC, fastConfig(), sync.WithIdentity(nil, "guess"))
	_, err = bad.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)
	assert.Never(t, func() bool {
		return slices.ContainsFunc(hub.e.Peers(), func(p sync.Peer) bool { return p.ID == idC })
	}, 200*time.Millisecond, tick)

	good.e.Close()
	require.Eventually(t, func() bool {
		return !slices.ContainsFunc(hub.e.Peers(), func(p sync.Peer) bool { return p.ID == idB })
	}, waitFor, tick)
}

func TestMalformedFramesResetLink(t *testing.T) {
	net := memory.NewNetwork()
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	conn, err := net.Dialer().Dial(ctx, "hub")
	require.NoError(t, err)
	defer conn.Close()

	for range 3 {
		require.NoError(t, conn.Send(ctx, []byte{0xc1, 0x00}))
	}
	for {
		if _, err = conn.Receive(ctx); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, memory.ErrClosed)
	require.Eventually(t, func() bool { return len(hub.e.Sessions()) == 0 }, waitFor, tick)
}

func TestStateEventsArePublished(t *testing.T) {
	net := memory.NewNetwork()
	hub := newNode(t, hubID, fastConfig())
	serve(t, net, "hub", hub)

	events := bus.New()
	var (
		mu   sc.Mutex
		seen []sync.State
	)
	_, err := events.Subscribe("", bus.TypeStatus, func(ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Data.(sync.StateChange).To)
		return nil
	})
	require.NoError(t, err)

	client := newNode(t, idB, fastConfig(), sync.WithEvents(events))
	_, err = client.e.Dial(net.Dialer(), "hub")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(seen, sync.Synced)
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, sync.Connecting, seen[0])
	assert.Less(t, slices.Index(seen, sync.Connected), slices.Index(seen, sync.Synced))
}
