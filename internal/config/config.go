// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for local state.
// Uses ~/.talky/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".talky")
}

// Config holds all configuration for the talky store daemon.
type Config struct {
	// Backend selection: github, sqlite, or memory.
	Backend  string `mapstructure:"backend"`
	DataPath string `mapstructure:"data_path"`

	// GitHub backend
	GitHubOwner   string `mapstructure:"github_owner"`
	GitHubRepo    string `mapstructure:"github_repo"`
	GitHubBranch  string `mapstructure:"github_branch"`
	GitHubToken   string `mapstructure:"github_token"`
	GitHubAPIBase string `mapstructure:"github_api_base"`

	// SQLite backend
	SQLitePath string `mapstructure:"sqlite_path"`

	// Store
	CacheFreshness      time.Duration `mapstructure:"cache_freshness"`
	WriteQueueSize      int           `mapstructure:"write_queue_size"`
	WriteMaxRetries     int           `mapstructure:"write_max_retries"`
	WriteRetryBaseDelay time.Duration `mapstructure:"write_retry_base_delay"`
	WriteRetryMaxDelay  time.Duration `mapstructure:"write_retry_max_delay"`

	// Calls
	RingTTL            time.Duration `mapstructure:"ring_ttl"`
	EndedCallRetention time.Duration `mapstructure:"ended_call_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:             "sqlite",
		DataPath:            "talky/data.json",
		GitHubBranch:        "main",
		SQLitePath:          filepath.Join(defaultDataDir(), "talky.db"),
		CacheFreshness:      5 * time.Second,
		WriteQueueSize:      256,
		WriteMaxRetries:     8,
		WriteRetryBaseDelay: 500 * time.Millisecond,
		WriteRetryMaxDelay:  30 * time.Second,
		RingTTL:             time.Hour,
		EndedCallRetention:  24 * time.Hour,
		SweepInterval:       time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("data_path", defaults.DataPath)
	v.SetDefault("github_branch", defaults.GitHubBranch)
	v.SetDefault("sqlite_path", defaults.SQLitePath)
	v.SetDefault("cache_freshness", defaults.CacheFreshness)
	v.SetDefault("write_queue_size", defaults.WriteQueueSize)
	v.SetDefault("write_max_retries", defaults.WriteMaxRetries)
	v.SetDefault("write_retry_base_delay", defaults.WriteRetryBaseDelay)
	v.SetDefault("write_retry_max_delay", defaults.WriteRetryMaxDelay)
	v.SetDefault("ring_ttl", defaults.RingTTL)
	v.SetDefault("ended_call_retention", defaults.EndedCallRetention)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with TALKY_ prefix
	v.SetEnvPrefix("TALKY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Ignore a missing default config file and run on built-in
			// defaults; only fail when an explicit path can't be read.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case "github":
		if c.GitHubOwner == "" || c.GitHubRepo == "" || c.GitHubToken == "" {
			return fmt.Errorf("github backend requires github_owner, github_repo, and github_token")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires sqlite_path")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid backend: %s (must be github, sqlite, or memory)", c.Backend)
	}

	if c.DataPath == "" {
		return fmt.Errorf("data_path must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.CacheFreshness <= 0 {
		return fmt.Errorf("cache freshness must be positive")
	}

	if c.WriteQueueSize <= 0 {
		return fmt.Errorf("write queue size must be positive")
	}

	if c.WriteMaxRetries < 0 {
		return fmt.Errorf("write max retries must be non-negative")
	}

	if c.WriteRetryBaseDelay <= 0 {
		return fmt.Errorf("write retry base delay must be positive")
	}

	if c.WriteRetryMaxDelay < c.WriteRetryBaseDelay {
		return fmt.Errorf("write retry base delay must be less than or equal to max delay")
	}

	if c.RingTTL <= 0 {
		return fmt.Errorf("ring ttl must be positive")
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	return nil
}
