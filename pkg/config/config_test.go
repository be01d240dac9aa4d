package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
nodeId: node-1
shards:
  - id: shard-0
    pathname: /pool/a
    bindAddr: 127.0.0.1:7001
    persistent: true
    bootstrap: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "0.0.0.0:7070", cfg.RPCAddr)
	require.Equal(t, "0.0.0.0:9090", cfg.MetricsAddr)
	require.Equal(t, "./data", cfg.DataDir)
	require.Len(t, cfg.Shards, 1)
	require.True(t, cfg.Shards[0].Persistent)
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	path := writeConfig(t, `
shards:
  - id: shard-0
    bindAddr: 127.0.0.1:7001
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNoShards(t *testing.T) {
	path := writeConfig(t, `nodeId: node-1`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsSignedShardWithoutSigPool(t *testing.T) {
	path := writeConfig(t, `
nodeId: node-1
shards:
  - id: shard-0
    bindAddr: 127.0.0.1:7001
    signed: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateShardID(t *testing.T) {
	path := writeConfig(t, `
nodeId: node-1
shards:
  - id: shard-0
    bindAddr: 127.0.0.1:7001
  - id: shard-0
    bindAddr: 127.0.0.1:7002
`)
	_, err := Load(path)
	require.Error(t, err)
}
