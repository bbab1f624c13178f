package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "scrape", config.Queue.Name)
	assert.Equal(t, 3, config.Queue.MaxAttempts)
	assert.Equal(t, 2, config.Workers.Concurrency)
	assert.Equal(t, "4m", config.Token.RefreshInterval)
	assert.Equal(t, "5s", config.Scraper.RateLimitCooldown)

	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "praedium.toml")

	content := `
environment = "production"

[workers]
concurrency = 8

[queue]
visibility_timeout = "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 8, config.Workers.Concurrency)
	assert.Equal(t, "10m", config.Queue.VisibilityTimeout)
	// Untouched sections keep their defaults
	assert.Equal(t, "scrape", config.Queue.Name)
	assert.Equal(t, 3, config.Queue.MaxAttempts)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte("[workers]\nconcurrency = 4\n"), 0644))

	local := filepath.Join(dir, "local.toml")
	require.NoError(t, os.WriteFile(local, []byte("[workers]\nconcurrency = 6\n"), 0644))

	config, err := LoadFromFiles(base, local)
	require.NoError(t, err)
	assert.Equal(t, 6, config.Workers.Concurrency)
}

func TestLoadFromFiles_InvalidDurationRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[token]\nrefresh_interval = \"four minutes\"\n"), 0644))

	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverride(t *testing.T) {
	t.Setenv("PRAEDIUM_WORKER_CONCURRENCY", "12")
	t.Setenv("PRAEDIUM_LOG_LEVEL", "debug")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 12, config.Workers.Concurrency)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
}
