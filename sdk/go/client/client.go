// Package client embeds a replica in a Go application: local collections
// backed by memory or badger, replicated to one or more hubs.
package client

import (
	"context"
	"net/url"
	sc "sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/sync"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/injector"
	"github.com/zeusync/crdtsync/internal/server"
)

type (
	Collection = manager.Collection
	Change     = manager.Change
	Op         = manager.Op
	Kind       = crdt.Kind
	State      = sync.State
	Result     = sync.Result
	Conflict   = conflict.Conflict
)

// Collection kinds.
const (
	Register = crdt.KindLWWRegister
	Map      = crdt.KindLWWMap
	Counter  = crdt.KindGCounter
	Sequence = crdt.KindSequence
	Graph    = crdt.KindGraph
	Tree     = crdt.KindTree
)

// Client is an embedded replica.
type Client struct {
	node    *server.Node
	cleanup func()
	logger  log.Log

	handlerMutex sc.Mutex
	subs         []bus.Subscription

	closed atomic.Bool
}

// Config holds configuration for the client
type Config struct {
	// ReplicaID pins the replica identity. Empty keeps the stored one, or
	// generates a fresh id on first start.
	ReplicaID string
	// DataDir is the badger directory. Empty keeps everything in memory.
	DataDir string

	// Servers are hub endpoints: ws://, wss:// or quic://host:port.
	Servers  []string
	Insecure bool

	Credential string
	UserInfo   map[string]string

	HeartbeatInterval time.Duration
	SyncTimeout       time.Duration

	LogLevel string
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		SyncTimeout:       30 * time.Second,
		LogLevel:          "warn",
	}
}

func (c Config) node() (*config.Config, error) {
	cfg := config.Default()
	cfg.Replica.ID = c.ReplicaID
	cfg.Replica.Credential = c.Credential
	cfg.Replica.UserInfo = c.UserInfo
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.DataDir == "" {
		cfg.Storage.Backend = config.BackendMemory
	} else {
		cfg.Storage.Path = c.DataDir
	}
	if c.HeartbeatInterval > 0 {
		cfg.Sync.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.SyncTimeout > 0 {
		cfg.Sync.SyncTimeout = c.SyncTimeout
	}

	for _, s := range c.Servers {
		peer, err := peerFor(s, c.Insecure)
		if err != nil {
			return nil, err
		}
		cfg.Transport.Peers = append(cfg.Transport.Peers, peer)
	}

	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return cfg, nil
}

func peerFor(endpoint string, insecure bool) (config.PeerConfig, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return config.PeerConfig{}, errors.Wrapf(ErrInvalidServer, "%s: %v", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return config.PeerConfig{Kind: config.TransportWebsocket, Endpoint: endpoint}, nil
	case "quic":
		if u.Host == "" {
			return config.PeerConfig{}, errors.Wrap(ErrInvalidServer, endpoint)
		}
		return config.PeerConfig{Kind: config.TransportQUIC, Endpoint: u.Host, Insecure: insecure}, nil
	default:
		return config.PeerConfig{}, errors.Wrapf(ErrInvalidServer, "unsupported scheme %q", u.Scheme)
	}
}

// Open restores the local replica and starts syncing with every server.
// Local reads and writes work whether or not a server is reachable.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	nodeCfg, err := cfg.node()
	if err != nil {
		return nil, err
	}
	node, cleanup, err := injector.InitializeNode(ctx, nodeCfg)
	if err != nil {
		return nil, err
	}
	if err = node.Start(ctx); err != nil {
		cleanup()
		return nil, err
	}

	c := &Client{
		node:    node,
		cleanup: cleanup,
		logger:  node.Logger().With(log.Component("client")),
	}
	c.logger.Info("Client opened", log.Int("servers", len(cfg.Servers)))
	return c, nil
}

func (c *Client) ID() string { return c.node.Manager().ID().String() }

// Create makes a new collection. Options choose the conflict policy and the
// resolution strategy.
func (c *Client) Create(ctx context.Context, name string, kind Kind, opts ...manager.CollectionOption) (*Collection, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.node.Manager().CreateCollection(ctx, name, kind, opts...)
}

func (c *Client) Collection(name string) (*Collection, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.node.Manager().Get(name)
}

func (c *Client) Collections() []string { return c.node.Manager().List() }

func (c *Client) Drop(ctx context.Context, name string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.node.Manager().Drop(ctx, name)
}

// Sync runs one sync cycle for every collection against every linked server.
func (c *Client) Sync(ctx context.Context) ([]Result, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.node.Manager().SyncAll(ctx)
}

func (c *Client) State() State { return c.node.Engine().State() }

func (c *Client) IsConnected() bool { return c.State().Linked() }

// Reconnect wakes servers that were given up on after repeated failures.
func (c *Client) Reconnect() { c.node.Reconnect() }

// OnEvent registers handler for one event type.
func (c *Client) OnEvent(eventType EventType, handler EventHandler) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	topic, typ, translate := eventType.route()
	if translate == nil {
		return errors.Wrapf(ErrUnknownEvent, "%q", eventType)
	}

	sub, err := c.node.Manager().Events().Subscribe(topic, typ, func(ev bus.Event) error {
		event, ok := translate(ev)
		if !ok || event.Type != eventType {
			return nil
		}
		return handler(event)
	})
	if err != nil {
		return err
	}

	c.handlerMutex.Lock()
	c.subs = append(c.subs, sub)
	c.handlerMutex.Unlock()
	return nil
}

// Close flushes pending writes, disconnects and releases storage.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.handlerMutex.Lock()
	for _, sub := range c.subs {
		_ = sub.Cancel()
	}
	c.subs = nil
	c.handlerMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.node.Stop(ctx)
	if errors.Is(err, server.ErrNodeNotRunning) {
		err = nil
	}
	c.cleanup()

	c.logger.Info("Client closed")
	return err
}
