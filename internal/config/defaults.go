package config

import "time"

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"

	TransportWebsocket = "websocket"
	TransportQUIC      = "quic"
)

var defaultLog = LogConfig{
	Level:    "info",
	Encoding: "json",
	Output:   []string{"stderr"},
}

var defaultStorage = StorageConfig{
	Backend: BackendBadger,
	Path:    "data",
	Retry: BackoffConfig{
		Initial:     50 * time.Millisecond,
		Max:         2 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	},
}

var defaultTransport = TransportConfig{
	Codec: "msgpack",
}

var defaultSync = SyncConfig{
	HeartbeatInterval: 5 * time.Second,
	MissedHeartbeats:  3,
	Backoff: BackoffConfig{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 10,
	},
	SyncTimeout:       30 * time.Second,
	OutboundQueue:     1024,
	MaxViolations:     5,
	BufferSize:        1024,
	LogGrace:          24 * time.Hour,
	LogLimit:          10000,
	CompactInterval:   time.Minute,
	SaveRetryInterval: 5 * time.Second,
	Strategy:          "last_write_wins",
	Policy:            "add_wins",
}

var defaultMetrics = MetricsConfig{
	Enabled: false,
	Addr:    "127.0.0.1:9100",
	Path:    "/metrics",
}

func Default() *Config {
	return &Config{
		Replica:   ReplicaConfig{},
		Log:       defaultLog,
		Storage:   defaultStorage,
		Transport: defaultTransport,
		Sync:      defaultSync,
		Metrics:   defaultMetrics,
	}
}

func (c *LogConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLog.Level
	}
	if c.Encoding == "" {
		c.Encoding = defaultLog.Encoding
	}
	if len(c.Output) == 0 {
		c.Output = defaultLog.Output
	}
}

func (c *BackoffConfig) populate(def BackoffConfig) {
	if c.Initial == 0 {
		c.Initial = def.Initial
	}
	if c.Max == 0 {
		c.Max = def.Max
	}
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
}

func (c *StorageConfig) PopulateDefaults() {
	if c.Backend == "" {
		c.Backend = defaultStorage.Backend
	}
	if c.Path == "" && c.Backend != BackendMemory {
		c.Path = defaultStorage.Path
	}
	c.Retry.populate(defaultStorage.Retry)
}

func (c *TransportConfig) PopulateDefaults() {
	if c.Codec == "" {
		c.Codec = defaultTransport.Codec
	}
	for i := range c.Listen {
		if c.Listen[i].Kind == "" {
			c.Listen[i].Kind = TransportWebsocket
		}
	}
	for i := range c.Peers {
		if c.Peers[i].Kind == "" {
			c.Peers[i].Kind = TransportWebsocket
		}
	}
}

func (c *SyncConfig) PopulateDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultSync.HeartbeatInterval
	}
	if c.MissedHeartbeats == 0 {
		c.MissedHeartbeats = defaultSync.MissedHeartbeats
	}
	c.Backoff.populate(defaultSync.Backoff)
	if c.SyncTimeout == 0 {
		c.SyncTimeout = defaultSync.SyncTimeout
	}
	if c.OutboundQueue == 0 {
		c.OutboundQueue = defaultSync.OutboundQueue
	}
	if c.MaxViolations == 0 {
		c.MaxViolations = defaultSync.MaxViolations
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultSync.BufferSize
	}
	if c.LogGrace == 0 {
		c.LogGrace = defaultSync.LogGrace
	}
	if c.LogLimit == 0 {
		c.LogLimit = defaultSync.LogLimit
	}
	if c.CompactInterval == 0 {
		c.CompactInterval = defaultSync.CompactInterval
	}
	if c.SaveRetryInterval == 0 {
		c.SaveRetryInterval = defaultSync.SaveRetryInterval
	}
	if c.Strategy == "" {
		c.Strategy = defaultSync.Strategy
	}
	if c.Policy == "" {
		c.Policy = defaultSync.Policy
	}
}

func (c *MetricsConfig) PopulateDefaults() {
	if !c.Enabled {
		return
	}
	if c.Addr == "" {
		c.Addr = defaultMetrics.Addr
	}
	if c.Path == "" {
		c.Path = defaultMetrics.Path
	}
}

func (c *Config) PopulateDefaults() {
	c.Log.PopulateDefaults()
	c.Storage.PopulateDefaults()
	c.Transport.PopulateDefaults()
	c.Sync.PopulateDefaults()
	c.Metrics.PopulateDefaults()
}
