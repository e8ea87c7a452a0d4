package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.Equal(t, "https://services.leadconnectorhq.com", cfg.GHL.BaseURL)
	assert.Equal(t, "2021-07-28", cfg.GHL.APIVersion)
	assert.Equal(t, "crmsync/1.0", cfg.GHL.UserAgent)
	assert.Equal(t, 12, cfg.Sync.Concurrency)
	assert.Equal(t, 100, cfg.Sync.PageSize)
	assert.Equal(t, 100, cfg.Sync.BurstMax)
	assert.Equal(t, 10*time.Second, cfg.Sync.BurstWindow())
	assert.Equal(t, "sync-output", cfg.Sync.OutDir)
	assert.Equal(t, "1. Hot", cfg.Sync.Rating)
	assert.Equal(t, "Proposal Sent", cfg.Sync.Stage)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: local.db
ghl:
  location_id: loc-42
sync:
  concurrency: 4
  burst_max: 50
  burst_window_secs: 5
log:
  level: debug
  format: console
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "loc-42", cfg.GHL.LocationID)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 50, cfg.Sync.BurstMax)
	assert.Equal(t, 5*time.Second, cfg.Sync.BurstWindow())
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Sync.PageSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	dir, _ := os.Getwd()
	yaml := "sync:\n  page_size: 25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CRMSYNC_SYNC_PAGE_SIZE", "40")
	t.Setenv("CRMSYNC_GHL_TOKEN", "env-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Sync.PageSize, "environment wins over the file")
	assert.Equal(t, "env-token", cfg.GHL.Token)
}

func TestRetryConfigResilience(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 3, InitialBackoffSecs: 0.5, MaxBackoffSecs: 4}
	cfg := rc.Resilience()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.MaxBackoff)

	defaults := RetryConfig{}.Resilience()
	assert.Equal(t, 6, defaults.MaxAttempts)
	assert.Equal(t, 2*time.Second, defaults.InitialBackoff)
	assert.Equal(t, 15*time.Second, defaults.MaxBackoff)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
