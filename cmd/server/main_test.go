package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/injector"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	out, err := run(t, "config", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "missed_heartbeats: 3")
}

func TestConfigCommandRejectsBadFile(t *testing.T) {
	path := writeConfig(t, "storage: {backend: floppy}\n")
	_, err := run(t, "config", "-c", path)
	require.Error(t, err)
}

func TestInspectPrintsCollections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "log: {level: error}\nstorage: {backend: sqlite, path: "+filepath.Join(dir, "replica.db")+"}\n")

	root := &RootOptions{ConfigPath: path}
	cfg, err := root.load()
	require.NoError(t, err)
	ctx := context.Background()
	m, cleanup, err := injector.InitializeManager(ctx, cfg)
	require.NoError(t, err)
	seq, err := m.CreateCollection(ctx, "letters", crdt.KindSequence)
	require.NoError(t, err)
	for _, s := range []string{"a", "b"} {
		_, err = seq.Mutate(ctx, manager.Append([]byte(s)))
		require.NoError(t, err)
	}
	cleanup()

	out, err := run(t, "inspect", "-c", path, "--format", "json")
	require.NoError(t, err)
	var views []collectionView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "letters", views[0].Name)
	assert.Equal(t, []any{"a", "b"}, views[0].Value)
	assert.Len(t, views[0].Vector, 1)

	out, err = run(t, "inspect", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "letters (sequence, add_wins, last_write_wins)")

	_, err = run(t, "inspect", "-c", path, "missing")
	require.Error(t, err)
	_, err = run(t, "inspect", "-c", path, "--format", "yaml")
	require.Error(t, err)
}
