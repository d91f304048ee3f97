package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize caps config reads to keep a runaway file from
// exhausting memory.
const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix namespaces the environment overrides.
const envPrefix = "RESOLVD_"

// Load reads configuration with the following precedence, highest first:
//
//  1. Environment variables (RESOLVD_STORAGE_DIR, RESOLVD_TRACKER_EFFECTIVENESS_THRESHOLD, ...)
//  2. YAML config file (default ~/.config/resolvd/config.yaml)
//  3. Hardcoded defaults
//
// A missing config file is not an error; a present but unreadable or
// oversized one is.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "resolvd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// check-then-read race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stating config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	// Environment overrides: RESOLVD_<SECTION>_<FIELD_NAME>.
	// The first underscore after the section separates section from
	// field; field names keep their underscores.
	//
	//	RESOLVD_STORAGE_DIR                -> storage.dir
	//	RESOLVD_TRACKER_RECURRENCE_WINDOW  -> tracker.recurrence_window
	//	RESOLVD_TELEMETRY_SERVICE_NAME     -> telemetry.service_name
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
