package config

import (
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/conflict"
	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/protocol"
	"github.com/zeusync/crdtsync/internal/core/replica"
)

func (c *Config) Validate() error {
	if err := c.Replica.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *ReplicaConfig) Validate() error {
	if c.ID == "" {
		return nil
	}
	if _, err := replica.ParseID(c.ID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidReplicaID, c.ID)
	}
	return nil
}

func (c *LogConfig) Validate() error {
	if _, err := log.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.Level)
	}
	if c.Encoding != "json" && c.Encoding != "console" {
		return fmt.Errorf("%w: %s", ErrInvalidLogEncoding, c.Encoding)
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendBadger, BackendSQLite:
		if c.Path == "" {
			return ErrMissingStoragePath
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStorageBackend, c.Backend)
	}
	return c.Retry.Validate()
}

func (c *BackoffConfig) Validate() error {
	if c.Initial <= 0 || c.Max < c.Initial || c.Multiplier < 1 || c.MaxAttempts < 1 {
		return fmt.Errorf("%w: %+v", ErrInvalidBackoff, *c)
	}
	return nil
}

func validTransport(kind string) bool {
	return kind == TransportWebsocket || kind == TransportQUIC
}

func (c *TransportConfig) Validate() error {
	if _, err := protocol.NewCodec(c.Codec); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCodec, c.Codec)
	}
	for _, l := range c.Listen {
		if !validTransport(l.Kind) {
			return fmt.Errorf("%w: %s", ErrInvalidTransport, l.Kind)
		}
		if l.Addr == "" {
			return fmt.Errorf("%w: %s listener", ErrMissingAddress, l.Kind)
		}
		if (l.CertFile == "") != (l.KeyFile == "") {
			return ErrMissingTLSPair
		}
	}
	for _, p := range c.Peers {
		if !validTransport(p.Kind) {
			return fmt.Errorf("%w: %s", ErrInvalidTransport, p.Kind)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("%w: %s peer", ErrMissingAddress, p.Kind)
		}
	}
	return nil
}

func (c *SyncConfig) Validate() error {
	for name, d := range map[string]int64{
		"heartbeat_interval":  int64(c.HeartbeatInterval),
		"sync_timeout":        int64(c.SyncTimeout),
		"log_grace":           int64(c.LogGrace),
		"compact_interval":    int64(c.CompactInterval),
		"save_retry_interval": int64(c.SaveRetryInterval),
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, name)
		}
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	strategy, err := conflict.ParseStrategy(c.Strategy)
	if err != nil || strategy == conflict.CustomFunction {
		// custom functions are code, not configuration
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, c.Strategy)
	}
	if _, err = crdt.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, c.Policy)
	}
	return nil
}

func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("%w: metrics", ErrMissingAddress)
	}
	return nil
}
