package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 5001, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.MoveTimeoutDuration())
	assert.Equal(t, 60*time.Second, cfg.ReconnectTimeoutDuration())
	assert.Equal(t, 60*time.Second, cfg.ConnectionTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.RematchTimeoutDuration())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gameserver.yaml")
	data := `
bind_address: "0.0.0.0"
port: 6001
log_level: "debug"
key_passphrase: "hunter2"
move_timeout: 10
reconnect_timeout: 20
web_spectator_addr: "127.0.0.1:8080"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 6001, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "hunter2", cfg.KeyPassphrase)
	assert.Equal(t, 10*time.Second, cfg.MoveTimeoutDuration())
	assert.Equal(t, 20*time.Second, cfg.ReconnectTimeoutDuration())
	assert.Equal(t, "127.0.0.1:8080", cfg.WebSpectatorAddr)

	// Untouched keys keep their defaults.
	assert.Equal(t, 60, cfg.ConnectionTimeout)
	assert.Equal(t, 30, cfg.RematchTimeout)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
