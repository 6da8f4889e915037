// Package config provides configuration management for roomsync.
// It defines the structure for YAML configuration files and handles
// loading, validation, and default value application.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the file leaves a field empty.
const (
	EnvHomeserver = "MATRIX_HOMESERVER"
	EnvUser       = "MATRIX_USER"
	EnvPassword   = "MATRIX_PASSWORD"
)

// Config is the top-level configuration structure for roomsync.
type Config struct {
	// Version is the configuration file format version
	Version string `yaml:"version"`
	// Homeserver is the base URL of the Matrix homeserver (e.g., https://matrix.example.org)
	Homeserver string `yaml:"homeserver"`
	// UserID is the Matrix user to log in as (full id or localpart)
	UserID string `yaml:"user_id"`
	// Password is used only when no saved session exists
	Password string `yaml:"password,omitempty"`
	// DeviceName is sent as initial_device_display_name on login
	DeviceName string `yaml:"device_name"`
	// SessionFile stores the access token and sync cursor between runs
	SessionFile string `yaml:"session_file"`

	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
	Archive   ArchiveConfig   `yaml:"archive"`
	AutoJoin  AutoJoinConfig  `yaml:"auto_join"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// SyncConfig controls the long-poll loop.
type SyncConfig struct {
	// TimeoutMs is the long-poll timeout in milliseconds (default: 30000)
	TimeoutMs int `yaml:"timeout_ms"`
	// FullState requests full room state on every sync
	FullState bool `yaml:"full_state"`
	// RetryDelay is the pause after a failed sync (default: 2s)
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// LoggingConfig defines diagnostic and chat logging behavior.
type LoggingConfig struct {
	// Level is the diagnostic log level: debug, info, warn, error (default: info)
	Level string `yaml:"level"`
	// Enabled turns on the chat log observer
	Enabled bool `yaml:"enabled"`
	// ChatLogDir is the directory where chat logs are stored
	ChatLogDir string `yaml:"chat_log_dir"`
	// LogFormat is either "text" or "json"
	LogFormat string `yaml:"log_format"`
	// Console echoes messages to the terminal
	Console bool `yaml:"console"`
}

// ArchiveConfig configures the SQLite message archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AutoJoinConfig configures invitation handling.
type AutoJoinConfig struct {
	// Enabled accepts invitations to invite-only rooms. Reloadable.
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RateLimitConfig paces join and send requests.
type RateLimitConfig struct {
	// WritesPerSecond of 0 disables pacing; server Retry-After is still honored
	WritesPerSecond float64 `yaml:"writes_per_second"`
	Burst           int     `yaml:"burst"`
}

// Timeout returns the long-poll timeout as a duration.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// DefaultDir is ~/.roomsync, or ./.roomsync when the home directory is unknown.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".roomsync")
}

// NewDefaultConfig creates a configuration with sensible defaults.
// State lives under ~/.roomsync.
func NewDefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		Version:     "1.0",
		DeviceName:  "roomsync",
		SessionFile: filepath.Join(dir, "session.json"),
		Sync: SyncConfig{
			TimeoutMs:  30000,
			RetryDelay: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Enabled:    true,
			ChatLogDir: filepath.Join(dir, "chats"),
			LogFormat:  "text",
			Console:    true,
		},
		Archive: ArchiveConfig{
			Path: filepath.Join(dir, "archive.db"),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		RateLimit: RateLimitConfig{
			WritesPerSecond: 2,
			Burst:           5,
		},
	}
}

// LoadConfig loads and validates a configuration from a YAML file.
// Empty credentials fall back to the MATRIX_* environment variables, and
// defaults are applied for any missing optional fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// SaveConfig writes the configuration to a YAML file.
// The file is created with 0600 permissions since it may hold a password.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv fills empty credentials from the environment.
func (c *Config) ApplyEnv() {
	if c.Homeserver == "" {
		c.Homeserver = os.Getenv(EnvHomeserver)
	}
	if c.UserID == "" {
		c.UserID = os.Getenv(EnvUser)
	}
	if c.Password == "" {
		c.Password = os.Getenv(EnvPassword)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required (set homeserver or %s)", EnvHomeserver)
	}
	u, err := url.Parse(c.Homeserver)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("homeserver must be an http(s) URL, got %q", c.Homeserver)
	}

	if c.Sync.TimeoutMs < 0 {
		return fmt.Errorf("sync.timeout_ms cannot be negative")
	}
	if c.Sync.RetryDelay < 0 {
		return fmt.Errorf("sync.retry_delay cannot be negative")
	}

	validLevels := map[string]bool{
		"":      true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if c.Logging.LogFormat != "" && c.Logging.LogFormat != "text" && c.Logging.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (expected text or json)", c.Logging.LogFormat)
	}

	if c.RateLimit.WritesPerSecond < 0 {
		return fmt.Errorf("rate_limit.writes_per_second cannot be negative")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst cannot be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	defaults := NewDefaultConfig()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.DeviceName == "" {
		c.DeviceName = defaults.DeviceName
	}
	if c.SessionFile == "" {
		c.SessionFile = defaults.SessionFile
	}

	if c.Sync.TimeoutMs == 0 {
		c.Sync.TimeoutMs = defaults.Sync.TimeoutMs
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = defaults.Sync.RetryDelay
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.ChatLogDir == "" {
		c.Logging.ChatLogDir = defaults.Logging.ChatLogDir
	}
	if c.Logging.LogFormat == "" {
		c.Logging.LogFormat = defaults.Logging.LogFormat
	}

	if c.Archive.Path == "" {
		c.Archive.Path = defaults.Archive.Path
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaults.Metrics.Addr
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
}
