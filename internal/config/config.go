// Package config provides configuration loading for resolvd.
//
// Configuration is read from a YAML file, overridden by RESOLVD_-prefixed
// environment variables, with hardcoded defaults for everything else.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete resolvd configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Tracker   TrackerConfig   `koanf:"tracker"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StorageConfig controls where and how often the snapshot is persisted.
type StorageConfig struct {
	// Dir is the directory holding the snapshot artifact.
	Dir string `koanf:"dir"`

	// SnapshotInterval is the periodic snapshot cadence. Zero disables
	// the timer; mutations and shutdown still persist.
	SnapshotInterval Duration `koanf:"snapshot_interval"`

	// RetentionDays is the default cleanup horizon.
	RetentionDays int `koanf:"retention_days"`
}

// TrackerConfig controls effectiveness scoring and suggestions.
type TrackerConfig struct {
	// RecurrenceWindow is how long after a fix a recurrence still counts
	// as "recent" for scoring.
	RecurrenceWindow Duration `koanf:"recurrence_window"`

	// EffectivenessThreshold is the minimum score for an effective fix.
	EffectivenessThreshold float64 `koanf:"effectiveness_threshold"`

	// MinSuccessRate is the default suggestion filter.
	MinSuccessRate float64 `koanf:"min_success_rate"`

	// ConfidenceZ tunes the Wilson lower bound for suggestion confidence.
	ConfidenceZ float64 `koanf:"confidence_z"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, or error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http/protobuf
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
	SamplingRate   float64  `koanf:"sampling_rate"`
}

// New returns a config populated with defaults.
func New() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Storage.Dir = filepath.Join(home, ".local", "share", "resolvd")
		}
	}
	if cfg.Storage.SnapshotInterval == 0 {
		cfg.Storage.SnapshotInterval = Duration(time.Minute)
	}
	if cfg.Storage.RetentionDays == 0 {
		cfg.Storage.RetentionDays = 90
	}
	if cfg.Tracker.RecurrenceWindow == 0 {
		cfg.Tracker.RecurrenceWindow = Duration(7 * 24 * time.Hour)
	}
	if cfg.Tracker.EffectivenessThreshold == 0 {
		cfg.Tracker.EffectivenessThreshold = 0.8
	}
	if cfg.Tracker.MinSuccessRate == 0 {
		cfg.Tracker.MinSuccessRate = 0.8
	}
	if cfg.Tracker.ConfidenceZ == 0 {
		cfg.Tracker.ConfidenceZ = 0.4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "resolvd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days cannot be negative")
	}
	if c.Tracker.EffectivenessThreshold < 0 || c.Tracker.EffectivenessThreshold > 1 {
		return fmt.Errorf("tracker.effectiveness_threshold must be in [0,1], got %f", c.Tracker.EffectivenessThreshold)
	}
	if c.Tracker.MinSuccessRate < 0 || c.Tracker.MinSuccessRate > 1 {
		return fmt.Errorf("tracker.min_success_rate must be in [0,1], got %f", c.Tracker.MinSuccessRate)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be in [0,1], got %f", c.Telemetry.SamplingRate)
		}
	}
	return nil
}
