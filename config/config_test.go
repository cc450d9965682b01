package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray inlet.toml interferes.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "inlet.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Worker.Workers)
	assert.Equal(t, 5, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.Worker.RetryLimit)
	assert.Equal(t, 1, cfg.Ticker.IntervalSeconds)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSeconds)
	assert.False(t, cfg.Fetch.AllowPrivateHosts)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inlet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/var/lib/inlet/inlet.db"

[server]
port = 9000

[worker]
workers = 8

[fetch]
allow_private_hosts = true
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/inlet/inlet.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Workers)
	// Unset sections keep their defaults.
	assert.Equal(t, 1, cfg.Ticker.IntervalSeconds)
	assert.True(t, cfg.Fetch.AllowPrivateHosts)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
