package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the battleship server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Security: the packet key is derived from this passphrase.
	// Empty means the default all-zero pre-shared key.
	KeyPassphrase string `yaml:"key_passphrase"`

	// Timeouts (seconds)
	MoveTimeout       int `yaml:"move_timeout"`       // player input inside a session
	ReconnectTimeout  int `yaml:"reconnect_timeout"`  // grace window after a disconnect
	ConnectionTimeout int `yaml:"connection_timeout"` // general socket inactivity bound
	RematchTimeout    int `yaml:"rematch_timeout"`    // play-again answer

	// Web spectator feed listen address, e.g. "127.0.0.1:8080".
	// Empty disables the feed.
	WebSpectatorAddr string `yaml:"web_spectator_addr"`
}

// Default returns a Server config with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:       "127.0.0.1",
		Port:              5001,
		LogLevel:          "info",
		MoveTimeout:       30,
		ReconnectTimeout:  60,
		ConnectionTimeout: 60,
		RematchTimeout:    30,
	}
}

// Load reads the server config from a YAML file. A missing file returns
// defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// MoveTimeoutDuration returns the move timeout as a duration.
func (s Server) MoveTimeoutDuration() time.Duration {
	return time.Duration(s.MoveTimeout) * time.Second
}

// ReconnectTimeoutDuration returns the reconnection grace window as a
// duration.
func (s Server) ReconnectTimeoutDuration() time.Duration {
	return time.Duration(s.ReconnectTimeout) * time.Second
}

// ConnectionTimeoutDuration returns the general socket inactivity bound as a
// duration.
func (s Server) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectionTimeout) * time.Second
}

// RematchTimeoutDuration returns the rematch answer bound as a duration.
func (s Server) RematchTimeoutDuration() time.Duration {
	return time.Duration(s.RematchTimeout) * time.Second
}
