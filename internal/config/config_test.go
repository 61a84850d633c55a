package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("MESHKEEPER_CONFIG", "")
	return tmp
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG layout only")
	}
	tmp := isolate(t)

	cfg, err := Load(filepath.Join(tmp, "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api-user.e2ro.com/2.2", cfg.Cloud.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Cloud.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Polling.ForegroundInterval)
	assert.Equal(t, 5*time.Minute, cfg.Polling.BackgroundInterval)
	assert.Equal(t, 30*time.Second, cfg.Probe.MinInterval)
	assert.True(t, cfg.Actions.ConfirmModerate)
	assert.Equal(t, 100, cfg.Cloud.ScoreNumeric)
	assert.Equal(t, filepath.Join(tmp, "data", "meshkeeper"), cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(tmp, "data", "meshkeeper", "credentials.enc"), cfg.Storage.CredentialsFile)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "config.toml")
	content := `
[cloud]
base_url = "http://127.0.0.1:8080/2.2"
score_numeric = 50

[polling]
foreground_interval = "5s"

[logging]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("MESHKEEPER_POLLING_FOREGROUND_INTERVAL", "7s")
	t.Setenv("MESHKEEPER_STORAGE_DATA_DIR", filepath.Join(tmp, "state"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/2.2", cfg.Cloud.BaseURL)
	assert.Equal(t, 50, cfg.Cloud.ScoreNumeric)
	assert.Equal(t, 10, cfg.Cloud.ScoreString)
	assert.Equal(t, 7*time.Second, cfg.Polling.ForegroundInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(tmp, "state"), cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(tmp, "state", "state"), cfg.DatabaseDir())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[throughput]\nsmoothing = 1.5\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Smoothing")
}

func TestLoadRejectsShortProbeInterval(t *testing.T) {
	tmp := isolate(t)
	t.Setenv("MESHKEEPER_PROBE_MIN_INTERVAL", "10s")

	_, err := Load(filepath.Join(tmp, "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinInterval")

	t.Setenv("MESHKEEPER_PROBE_MIN_INTERVAL", "45s")
	cfg, err := Load(filepath.Join(tmp, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Probe.MinInterval)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cloud\nbase_url ="), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:9400"
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9400", loaded.Server.ListenAddress)
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG test not applicable on Windows")
	}
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "meshkeeper"), dir)
}

func TestEnsureDirs(t *testing.T) {
	tmp := isolate(t)
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmp, "data-dir")

	require.NoError(t, EnsureDirs(&cfg))
	assert.DirExists(t, cfg.DatabaseDir())
}
