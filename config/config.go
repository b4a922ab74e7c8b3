package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	// Scenario is the path to a simulator scenario file used as the
	// remote when no real client is wired in.
	Scenario string `yaml:"scenario,omitempty"`

	// JournalDir enables the audit journal when set.
	JournalDir string `yaml:"journal_dir,omitempty"`

	// HistoryDir enables the status-history store when set.
	HistoryDir string `yaml:"history_dir,omitempty"`

	// MetricsAddr is the listen address for /metrics and /health.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// LogLevel is one of zerolog's level strings (debug, info, ...).
	LogLevel string `yaml:"log_level,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// Load loads configuration from file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate ensures config has usable fields
func (c *Config) Validate() error {
	if c.MetricsAddr == "" {
		return fmt.Errorf("metrics_addr is required")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
