package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, types.DefaultApprovalTimeout, cfg.ApprovalTimeout())
	assert.Equal(t, types.DefaultMergeWindow, cfg.MergeWindow())
	assert.Equal(t, types.DefaultPollInterval, cfg.Polling.PollInterval())
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadJSONCWithComments(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, dir, "agenthub.jsonc", `{
		// the push backend
		"duplex": { "url": "ws://localhost:8080/stream" },
		"logLevel": "DEBUG",
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/stream", cfg.Duplex.URL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, dir, "agenthub.yaml", `
polling:
  baseUrl: http://localhost:9090
  pollIntervalMs: 250
mergeWindowMs: 2000
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090", cfg.Polling.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Polling.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.MergeWindow())
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BACKEND_HOST", "backend.internal")
	dir := t.TempDir()
	writeFile(t, dir, "agenthub.json", `{"duplex": {"url": "ws://{env:BACKEND_HOST}/stream"}}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://backend.internal/stream", cfg.Duplex.URL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, dir, "agenthub.json", `{"logLevel": "WARN", "polling": {"baseUrl": "http://from-file"}}`)
	t.Setenv("AGENTHUB_LOG_LEVEL", "ERROR")
	t.Setenv("AGENTHUB_POLLING_URL", "http://from-env")
	t.Setenv("AGENTHUB_APPROVAL_TIMEOUT_MS", "60000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.LogLevel)
	assert.Equal(t, "http://from-env", cfg.Polling.BaseURL)
	assert.Equal(t, time.Minute, cfg.ApprovalTimeout())
}

func TestProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	globalDir := filepath.Join(home, ".agenthub")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	writeFile(t, globalDir, "agenthub.json", `{"logLevel": "WARN", "dataDir": "/tmp/global"}`)

	project := t.TempDir()
	writeFile(t, project, "agenthub.json", `{"logLevel": "DEBUG"}`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/tmp/global", cfg.DataDir)
}
