package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arvo-AI/aurora-sub002/internal/render"
)

func serveFlags(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := serveCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	return cmd
}

func TestResolveServeConfigDefaults(t *testing.T) {
	cfg, err := resolveServeConfig(serveFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "./aurora-topology.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "topology", cfg.ArchivePrefix)
	assert.Empty(t, cfg.ArchiveBucket)
}

func TestResolveServeConfigPriority(t *testing.T) {
	t.Setenv("AURORA_TOPOLOGY_PORT", "9090")
	t.Setenv("AURORA_TOPOLOGY_DB_PATH", "/tmp/env.db")
	t.Setenv("AURORA_TOPOLOGY_CACHE_TTL", "30s")

	cmd := serveFlags(t)
	require.NoError(t, cmd.Flags().Set("db-path", "/tmp/flag.db"))

	cfg, err := resolveServeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.db", cfg.DBPath, "explicit flag beats env")
	assert.Equal(t, 9090, cfg.Port, "env beats default")
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestResolveServeConfigInvalid(t *testing.T) {
	t.Setenv("AURORA_TOPOLOGY_PORT", "not-a-port")
	_, err := resolveServeConfig(serveFlags(t))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AURORA_TOPOLOGY_HISTORY_LIMIT=7\n"), 0o644))
	t.Setenv("AURORA_TOPOLOGY_HISTORY_LIMIT", "")
	os.Unsetenv("AURORA_TOPOLOGY_HISTORY_LIMIT")

	require.NoError(t, loadEnvFile(path))
	cfg, err := resolveServeConfig(serveFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.HistoryLimit)

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadLayoutOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodeWidth: 300\nverticalSpacing: 80\n"), 0o644))

	opts, err := loadLayoutOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 300.0, opts.NodeWidth)
	assert.Equal(t, 80.0, opts.VerticalSpacing)
	assert.Equal(t, 250.0, opts.GroupWidth, "unset fields keep defaults")
}

const sampleSnapshot = `{
  "version": 3,
  "nodes": [
    {"id": "lb", "type": "loadbalancer", "label": "edge", "status": "healthy"},
    {"id": "svc", "type": "service", "label": "checkout", "status": "failed"}
  ],
  "edges": [{"source": "lb", "target": "svc", "type": "causation"}],
  "rootCauseId": "svc"
}`

func runLayout(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSnapshot), 0o644))

	root := rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"layout", path, "--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestLayoutCommandJSON(t *testing.T) {
	out, err := runLayout(t)
	require.NoError(t, err)

	var g render.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, int64(3), g.Version)
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, "svc", g.RootCauseID)
}

func TestLayoutCommandReadsLayoutConfigFromEnv(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("verticalSpacing: 80\n"), 0o644))
	t.Setenv(envPrefix+"LAYOUT_CONFIG", cfgPath)

	svcY := func(out string) float64 {
		var g render.Graph
		require.NoError(t, json.Unmarshal([]byte(out), &g))
		for _, n := range g.Nodes {
			if n.ID == "svc" {
				return n.Position.Y
			}
		}
		t.Fatal("svc not rendered")
		return 0
	}

	out, err := runLayout(t)
	require.NoError(t, err)
	assert.Equal(t, 180.0, svcY(out), "env layout config applies")

	defaults := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(defaults, []byte("{}\n"), 0o644))
	out, err = runLayout(t, "--layout-config", defaults)
	require.NoError(t, err)
	assert.Equal(t, 250.0, svcY(out), "flag wins over env")
}

func TestLayoutCommandFormats(t *testing.T) {
	out, err := runLayout(t, "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")

	out, err = runLayout(t, "-f", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "svc")

	_, err = runLayout(t, "--format", "svg")
	assert.Error(t, err)
}
