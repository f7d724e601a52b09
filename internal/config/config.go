// Package config holds the daemon's own startup configuration: how many
// sessions it will allow at once, where to write per-session logs, and at
// what level to log. A config file overlays the defaults; CLI flags
// overlay the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ianremillard/ptybridge/internal/ptyerr"
)

// Config is the daemon's own configuration, distinct from a per-session
// session.Config.
type Config struct {
	MaxSessions int    `yaml:"max_sessions"`
	LogDir      string `yaml:"log_dir"`
	LogLevel    string `yaml:"log_level"`

	DefaultBufferSize         int `yaml:"default_buffer_size"`
	DefaultIdleTimeoutSeconds int `yaml:"default_idle_timeout_seconds"`
}

// Default returns a Config with sensible defaults, matching the reference
// values in the tool schema's descriptions.
func Default() Config {
	return Config{
		MaxSessions:               10,
		LogLevel:                  "info",
		DefaultBufferSize:         1000,
		DefaultIdleTimeoutSeconds: 1800,
	}
}

// Load reads a YAML file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ptyerr.New(ptyerr.Config, "load", fmt.Errorf("read config file: %w", err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, ptyerr.New(ptyerr.Config, "load", fmt.Errorf("parse config file: %w", err))
	}
	return cfg, nil
}

// LoadOrDefault returns Default() when path is empty, else Load(path).
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks that the configuration is usable: max_sessions must be
// positive and, if set, log_dir must exist and be a directory.
func (c Config) Validate() error {
	if c.MaxSessions <= 0 {
		return ptyerr.New(ptyerr.Config, "validate", fmt.Errorf("max-sessions must be positive, got %d", c.MaxSessions))
	}
	if c.LogDir != "" {
		info, err := os.Stat(c.LogDir)
		if err != nil {
			return ptyerr.New(ptyerr.Config, "validate", fmt.Errorf("log dir %q: %w", c.LogDir, err))
		}
		if !info.IsDir() {
			return ptyerr.New(ptyerr.Config, "validate", fmt.Errorf("log dir %q is not a directory", c.LogDir))
		}
	}
	return nil
}
