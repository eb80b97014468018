package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.PopulateDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Sync.MissedHeartbeats)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
}

func TestReadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	doc := `
replica:
  id: 00000000-0000-0000-0000-00000000000a
  auto_create: true
storage:
  backend: sqlite
  path: /var/lib/crdtsync/node.db
transport:
  listen:
    - addr: 0.0.0.0:7070
    - kind: quic
      addr: 0.0.0.0:7071
  peers:
    - endpoint: ws://hub:7070/sync
sync:
  heartbeat_interval: 2s
  backoff:
    max_attempts: 4
  strategy: user_decision
metrics:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Read(path)
	require.NoError(t, err)

	assert.True(t, cfg.Replica.AutoCreate)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Sync.HeartbeatInterval)
	assert.Equal(t, 4, cfg.Sync.Backoff.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Backoff.Initial, "unset fields keep their default")
	assert.Equal(t, "user_decision", cfg.Sync.Strategy)
	assert.Equal(t, "info", cfg.Log.Level)

	require.Len(t, cfg.Transport.Listen, 2)
	assert.Equal(t, TransportWebsocket, cfg.Transport.Listen[0].Kind)
	assert.Equal(t, TransportQUIC, cfg.Transport.Listen[1].Kind)
	assert.Equal(t, TransportWebsocket, cfg.Transport.Peers[0].Kind)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"replica id", "replica: {id: nope}", ErrInvalidReplicaID},
		{"log level", "log: {level: loud}", ErrInvalidLogLevel},
		{"log encoding", "log: {encoding: xml}", ErrInvalidLogEncoding},
		{"backend", "storage: {backend: floppy}", ErrInvalidStorageBackend},
		{"codec", "transport: {codec: protobuf}", ErrInvalidCodec},
		{"listener kind", "transport: {listen: [{kind: udp, addr: ':1'}]}", ErrInvalidTransport},
		{"listener addr", "transport: {listen: [{kind: quic}]}", ErrMissingAddress},
		{"tls pair", "transport: {listen: [{kind: quic, addr: ':1', cert_file: a.pem}]}", ErrMissingTLSPair},
		{"peer endpoint", "transport: {peers: [{kind: quic}]}", ErrMissingAddress},
		{"strategy", "sync: {strategy: coin_flip}", ErrInvalidStrategy},
		{"custom strategy", "sync: {strategy: custom_function}", ErrInvalidStrategy},
		{"policy", "sync: {policy: both_win}", ErrInvalidPolicy},
		{"duration", "sync: {sync_timeout: -1s}", ErrInvalidDuration},
		{"backoff", "sync: {backoff: {initial: 10s, max: 1s}}", ErrInvalidBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("sync: {heartbeat: 1s}"))
	require.Error(t, err)
}

func TestEmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Sync, cfg.Sync)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Transport.Peers = []PeerConfig{{Kind: TransportQUIC, Endpoint: "hub:7071", Insecure: true}}
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "heartbeat_interval: 5s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Transport.Peers, back.Transport.Peers)
	assert.Equal(t, cfg.Sync, back.Sync)
}
