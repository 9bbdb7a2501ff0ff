// Package daemon implements the local code-navigation daemon: an HTTP
// server exposing POST /index, POST /query and GET /status against a
// per-repo cache of loaded indexes, guarded by a per-repo read/write lock.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon's HTTP server and process
// lifecycle.
type Config struct {
	// Host and Port are the bind address for the index/query/status API.
	// Default: 127.0.0.1:8765
	Host string
	Port int

	// MetricsPort is the bind port for GET /metrics (Prometheus exposition).
	// Zero disables the metrics listener.
	MetricsPort int

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.xtrc/daemon.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	ShutdownGracePeriod time.Duration

	// MaxProjects is the maximum number of repos to keep loaded in memory.
	// Uses LRU eviction when exceeded.
	MaxProjects int

	// AutoStart enables auto-starting the daemon from the CLI if it isn't
	// already running.
	AutoStart bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	xtrcDir := filepath.Join(home, ".xtrc")

	return Config{
		Host:                "127.0.0.1",
		Port:                8765,
		MetricsPort:         9765,
		PIDPath:             filepath.Join(xtrcDir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		MaxProjects:         5,
		AutoStart:           false,
	}
}

// Addr returns the host:port the HTTP server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.MaxProjects <= 0 {
		return fmt.Errorf("max projects must be positive")
	}
	return nil
}

// EnsureDir creates the directory for the PID file if it doesn't exist.
func (c Config) EnsureDir() error {
	pidDir := filepath.Dir(c.PIDPath)
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return nil
}
