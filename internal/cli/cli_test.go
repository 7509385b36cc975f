package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/constellation/internal/config"
	"github.com/thebtf/constellation/internal/server"
)

const sampleExport = `{
  "extractionInfo": {"databaseId": "test"},
  "collections": {
    "extractions": [
      {"id": "p1", "data": {"content": "Build a python api client", "category": "coding", "keywords": ["python", "api", "client"]}},
      {"id": "p2", "data": {"content": "Python api client with retries", "category": "coding", "keywords": ["python", "api", "retries"]}},
      {"id": "p3", "data": {"content": "Write a haiku about autumn", "category": "writing", "keywords": ["haiku", "autumn"]}},
      {"id": "p4", "data": {"content": "Plan a trip to Lisbon", "keywords": ["travel", "lisbon"]}}
    ]
  }
}`

func writeExport(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyze_Text(t *testing.T) {
	path := writeExport(t, t.TempDir(), "export.json", sampleExport)

	out, err := run(t, "analyze", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Similarity analysis of 4 nodes (threshold 0.40)")
	assert.Contains(t, out, "Pairwise sample")
	assert.Contains(t, out, "keywords 0: [python, api, client]")
	assert.Contains(t, out, "categories: coding vs coding")
	assert.Contains(t, out, "p1 <-> p2")
	assert.Contains(t, out, "would cluster")
	assert.Contains(t, out, "Clusters: 3 total, 1 with more than one node")
	assert.Contains(t, out, "uncategorized")
}

func TestAnalyze_JSON(t *testing.T) {
	path := writeExport(t, t.TempDir(), "export.json", sampleExport)

	out, err := run(t, "analyze", "--json", "--sample", "2", path)
	require.NoError(t, err)

	var got analysis
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got.Report.Sample, 1)
	assert.True(t, got.Report.WouldCluster())
	require.Len(t, got.Clusters, 3)
	assert.Equal(t, []string{"p1", "p2"}, got.Clusters[0].Members)
}

func TestAnalyze_HighThresholdKeepsSingletons(t *testing.T) {
	path := writeExport(t, t.TempDir(), "export.json", sampleExport)

	out, err := run(t, "analyze", "--threshold", "0.95", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Clusters: 4 total, 0 with more than one node")
	assert.Contains(t, out, "No pair reaches the threshold")
}

func TestAnalyze_FlagOverridesInvalidSetting(t *testing.T) {
	dir := t.TempDir()
	path := writeExport(t, dir, "export.json", sampleExport)
	settings := writeExport(t, dir, "settings.json", `{"CONSTELLATION_THRESHOLD": 1.5}`)

	_, err := run(t, "analyze", "--config", settings, path)
	assert.ErrorIs(t, err, config.ErrInvalid)

	out, err := run(t, "analyze", "--config", settings, "--threshold", "0.4", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Similarity analysis of 4 nodes (threshold 0.40)")
}

func TestAnalyze_Errors(t *testing.T) {
	dir := t.TempDir()
	path := writeExport(t, dir, "export.json", sampleExport)

	_, err := run(t, "analyze", "--threshold", "1.5", path)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = run(t, "analyze", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = run(t, "analyze")
	assert.Error(t, err, "export argument is required")
}

func TestServe_WatchNeedsDirectory(t *testing.T) {
	path := writeExport(t, t.TempDir(), "export.json", sampleExport)

	_, err := run(t, "serve", "--watch", path)
	assert.ErrorContains(t, err, "needs a directory")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func getJSON[T any](addr, path string) (T, error) {
	var out T
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

func TestRunServe_WatchInsertsNewExports(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "a.json", sampleExport)

	cfg := config.Default()
	cfg.ListenAddr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, "test", dir, true) }()

	require.Eventually(t, func() bool {
		health, err := getJSON[server.HealthResponse](cfg.ListenAddr, "/health")
		return err == nil && health.Nodes == 4
	}, 5*time.Second, 25*time.Millisecond)

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeExport(t, dir, "b.json", `[{"id": "p5", "keywords": ["python", "api", "client"]}, {"id": "p1"}]`)

	require.Eventually(t, func() bool {
		resp, err := getJSON[server.NodeClusterResponse](cfg.ListenAddr, "/api/nodes/p5/cluster")
		return err == nil && resp.ClusterID == "p1"
	}, 5*time.Second, 25*time.Millisecond)

	health, err := getJSON[server.HealthResponse](cfg.ListenAddr, "/health")
	require.NoError(t, err)
	assert.Equal(t, 5, health.Nodes)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
