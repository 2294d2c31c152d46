// Package config holds all configuration types and loading logic for pollq.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by Storage.Backend.
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the root configuration for a pollq server instance.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds network settings for the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RateLimitRPS / RateLimitBurst tune the per-IP token bucket applied to
	// every request. RPS <= 0 disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	// Backend is "bolt" (default, single file) or "postgres".
	Backend string `yaml:"backend"`
	// Path is the bolt database file. Used when Backend == "bolt".
	Path string `yaml:"path"`
	// DSN is the postgres connection string. Used when Backend == "postgres".
	DSN string `yaml:"dsn"`
}

// QueueConfig sets queue-engine tunables.
type QueueConfig struct {
	// VisibilityTimeoutMs is how long a polled message stays hidden before
	// it automatically becomes available again.
	VisibilityTimeoutMs int `yaml:"visibility_timeout_ms"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
			Path:    "./data/pollq.db",
		},
		Queue: QueueConfig{
			VisibilityTimeoutMs: 30_000,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run pollq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	POLLQ_PORT     — sets server.port
//	POLLQ_DB_PATH  — sets storage.path
//	POLLQ_DSN      — sets storage.dsn and selects the postgres backend
//	POLLQ_API_KEY  — sets auth.api_key and enables auth
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("POLLQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("POLLQ_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("POLLQ_DSN"); v != "" {
		cfg.Storage.DSN = v
		cfg.Storage.Backend = BackendPostgres
	}
	if v := os.Getenv("POLLQ_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
}

// VisibilityTimeout returns the configured visibility timeout as a Duration.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeoutMs) * time.Millisecond
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Queue.VisibilityTimeoutMs < 1 {
		return errors.New("queue.visibility_timeout_ms must be at least 1")
	}
	switch c.Storage.Backend {
	case BackendBolt:
		if c.Storage.Path == "" {
			return errors.New("storage.path must not be empty for the bolt backend")
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn must not be empty for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendBolt, BackendPostgres)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth.enabled is true")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}
