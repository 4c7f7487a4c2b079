package store

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for the Store.
type Config struct {
	// Logger receives structured log output.
	// Default: slog.Default()
	Logger *slog.Logger

	// MaxRetainedVersions is the number of recent committed versions kept
	// readable in addition to the current one. Pinned versions are always
	// retained regardless of this limit.
	// Default: 8
	// Min: 1
	MaxRetainedVersions int

	// Metrics is an optional Prometheus registerer. When nil, no metrics
	// are collected.
	Metrics prometheus.Registerer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:              slog.Default(),
		MaxRetainedVersions: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetainedVersions < 1 {
		c.MaxRetainedVersions = 1
	}
}
