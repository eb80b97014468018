// Package config is the YAML configuration of a replica node.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Replica   ReplicaConfig   `yaml:"replica"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
	Sync      SyncConfig      `yaml:"sync"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ReplicaConfig struct {
	// ID pins the replica id. Empty uses the id persisted in storage.
	ID string `yaml:"id"`
	// AutoCreate lets peers introduce collections this node lacks.
	AutoCreate bool              `yaml:"auto_create"`
	UserInfo   map[string]string `yaml:"user_info,omitempty"`
	// Credential is announced to peers on join.
	Credential string `yaml:"credential,omitempty"`
	// Credentials accepted from joining peers. Empty admits everyone.
	Credentials []string `yaml:"credentials,omitempty"`
}

type LogConfig struct {
	Level    string   `yaml:"level"`
	Encoding string   `yaml:"encoding"`
	Output   []string `yaml:"output"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// QuotaBytes bounds the memory backend; 0 is unbounded.
	QuotaBytes int           `yaml:"quota_bytes"`
	Retry      BackoffConfig `yaml:"retry"`
}

type BackoffConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type TransportConfig struct {
	Codec  string           `yaml:"codec"`
	Listen []ListenerConfig `yaml:"listen"`
	Peers  []PeerConfig     `yaml:"peers"`
}

type ListenerConfig struct {
	Kind string `yaml:"kind"`
	Addr string `yaml:"addr"`
	// CertFile and KeyFile serve QUIC; both empty use a self-signed pair.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

type PeerConfig struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
	// Insecure skips QUIC certificate verification.
	Insecure bool `yaml:"insecure,omitempty"`
}

type SyncConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MissedHeartbeats  int           `yaml:"missed_heartbeats"`
	Backoff           BackoffConfig `yaml:"backoff"`
	SyncTimeout       time.Duration `yaml:"sync_timeout"`
	OutboundQueue     int           `yaml:"outbound_queue"`
	MaxViolations     int           `yaml:"max_violations"`
	BufferSize        int           `yaml:"buffer_size"`
	LogGrace          time.Duration `yaml:"log_grace"`
	LogLimit          int           `yaml:"log_limit"`
	CompactInterval   time.Duration `yaml:"compact_interval"`
	SaveRetryInterval time.Duration `yaml:"save_retry_interval"`
	Strategy          string        `yaml:"strategy"`
	Policy            string        `yaml:"policy"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Read overlays the file at path on Default and validates the result.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
