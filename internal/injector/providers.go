package injector

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/replica"
	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/storage/badger"
	"github.com/zeusync/crdtsync/internal/core/storage/memory"
	"github.com/zeusync/crdtsync/internal/core/storage/sqlite"
	"github.com/zeusync/crdtsync/internal/core/sync"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/core/sync/metrics"
	"github.com/zeusync/crdtsync/internal/server"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

// BaseSet opens the local replica: logger, metrics, storage and manager.
var BaseSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideCollector,
	ProvideEvents,
	ProvideStorage,
	ProvideManager,
)

// NodeSet adds the sync engine and the network node on top of BaseSet.
var NodeSet = wire.NewSet(
	BaseSet,
	ProvideEngine,
	ProvideRegistry,
	server.NewNode,
)

func ProvideLogger(cfg *config.Config) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := log.NewWithOptions(log.Options{
		Level:       level,
		Encoding:    cfg.Log.Encoding,
		OutputPaths: cfg.Log.Output,
	})
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideCollector() *metrics.Collector {
	return metrics.NewCollector()
}

func ProvideRegistry(c *metrics.Collector) *prometheus.Registry {
	return c.Registry()
}

func ProvideEvents(c *metrics.Collector) bus.EventBus {
	b := bus.New()
	b.AddObserver(c)
	return b
}

func backoff(c config.BackoffConfig) concurrent.Backoff {
	return concurrent.Backoff{
		Initial:     c.Initial,
		Max:         c.Max,
		Multiplier:  c.Multiplier,
		MaxAttempts: c.MaxAttempts,
	}
}

// ProvideStorage opens the configured backend behind a retrying decorator.
func ProvideStorage(cfg *config.Config, logger log.Log, c *metrics.Collector) (storage.Storage, func(), error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		store = memory.New(cfg.Storage.QuotaBytes)
	case config.BackendBadger:
		store, err = badger.Open(cfg.Storage.Path)
	case config.BackendSQLite:
		if err = os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err == nil {
			store, err = sqlite.Open(cfg.Storage.Path)
		}
	default:
		err = config.ErrInvalidStorageBackend
	}
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Storage opened", log.String("backend", cfg.Storage.Backend), log.String("path", cfg.Storage.Path))

	retrying := storage.WithRetry(store, backoff(cfg.Storage.Retry), logger)
	retrying.OnRetry(c.StorageRetry)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Close storage failed", log.Error(err))
		}
	}
	return retrying, cleanup, nil
}

func ProvideManager(ctx context.Context, cfg *config.Config, store storage.Storage, logger log.Log, c *metrics.Collector, events bus.EventBus) (*manager.Manager, func(), error) {
	strategy, err := conflict.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return nil, nil, err
	}
	policy, err := crdt.ParsePolicy(cfg.Sync.Policy)
	if err != nil {
		return nil, nil, err
	}
	opts := []manager.Option{manager.WithMetrics(c), manager.WithEvents(events)}
	if cfg.Replica.ID != "" {
		id, err := replica.ParseID(cfg.Replica.ID)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, manager.WithReplicaID(id))
	}

	m, err := manager.Open(ctx, store, manager.Config{
		BufferSize:        cfg.Sync.BufferSize,
		LogGrace:          cfg.Sync.LogGrace,
		LogLimit:          cfg.Sync.LogLimit,
		CompactInterval:   cfg.Sync.CompactInterval,
		SaveRetryInterval: cfg.Sync.SaveRetryInterval,
		Strategy:          strategy,
		Policy:            policy,
		AutoCreate:        cfg.Replica.AutoCreate,
	}, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return m, func() { _ = m.Close() }, nil
}

// ProvideEngine builds the sync engine over m and attaches it.
func ProvideEngine(cfg *config.Config, m *manager.Manager, logger log.Log, c *metrics.Collector, events bus.EventBus) (*sync.Engine, func(), error) {
	codec, err := protocol.NewCodec(cfg.Transport.Codec)
	if err != nil {
		return nil, nil, err
	}
	e := sync.NewEngine(m.ID(), m, codec, sync.Config{
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		MissedHeartbeats:  cfg.Sync.MissedHeartbeats,
		Backoff:           backoff(cfg.Sync.Backoff),
		SyncTimeout:       cfg.Sync.SyncTimeout,
		OutboundQueue:     cfg.Sync.OutboundQueue,
		MaxViolations:     cfg.Sync.MaxViolations,
	}, logger,
		sync.WithMetrics(c),
		sync.WithEvents(events),
		sync.WithAuthenticator(server.CredentialAuthenticator(cfg.Replica.Credentials)),
		sync.WithIdentity(cfg.Replica.UserInfo, cfg.Replica.Credential),
	)
	m.Attach(e)
	return e, e.Close, nil
}
