// Package config loads and validates the orchestrator configuration.
// Precedence: CLI flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for bundlebuild.
type Config struct {
	// WorkspaceRoot is the version-controlled workspace builds provision from.
	WorkspaceRoot string `yaml:"workspace_root"`

	// DataDir is the root for durable state (stable artifacts, caches).
	DataDir string `yaml:"data_dir"`

	// Cache configures the result cache.
	Cache CacheConfig `yaml:"cache"`

	// Build configures orchestrator behavior.
	Build BuildConfig `yaml:"build"`

	// Metrics configures the Prometheus endpoint for watch mode.
	Metrics MetricsConfig `yaml:"metrics"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level"`
}

// CacheConfig configures the sqlite result cache.
type CacheConfig struct {
	// Path to the sqlite database file. Defaults to <data_dir>/cache.db.
	Path string `yaml:"path"`

	// DevBypass skips cache reads (writes still happen) for development.
	DevBypass bool `yaml:"dev_bypass"`
}

// BuildConfig configures orchestrator behavior.
type BuildConfig struct {
	// Sourcemap enables sourcemap generation by default.
	Sourcemap bool `yaml:"sourcemap"`

	// InstallTimeout bounds a single dependency install invocation.
	InstallTimeout time.Duration `yaml:"install_timeout"`

	// TypecheckTimeout bounds a single type checker invocation.
	TypecheckTimeout time.Duration `yaml:"typecheck_timeout"`

	// WatchDebounce is the quiet period before a watch-triggered rebuild.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// MetricsConfig configures metrics exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads configuration from the given yaml file, applying .env files,
// environment overrides, and defaults. A missing file is not an error;
// defaults are returned.
func Load(path string) (*Config, error) {
	// Existing process environment wins over .env contents.
	_ = godotenv.Load(".env", ".env.local")

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkspaceRoot: ".",
		LogLevel:      "info",
		Build: BuildConfig{
			Sourcemap:        true,
			InstallTimeout:   5 * time.Minute,
			TypecheckTimeout: 3 * time.Minute,
			WatchDebounce:    400 * time.Millisecond,
		},
		Metrics: MetricsConfig{Addr: ":9190"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUNDLEBUILD_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("BUNDLEBUILD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BUNDLEBUILD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BUNDLEBUILD_DEV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.DevBypass = b
		}
	}
	if v := os.Getenv("BUNDLEBUILD_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(os.TempDir(), "bundlebuild")
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.DataDir, "cache.db")
	}
	if c.Build.InstallTimeout <= 0 {
		c.Build.InstallTimeout = 5 * time.Minute
	}
	if c.Build.TypecheckTimeout <= 0 {
		c.Build.TypecheckTimeout = 3 * time.Minute
	}
	if c.Build.WatchDebounce <= 0 {
		c.Build.WatchDebounce = 400 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug|info|warn|error)", c.LogLevel)
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// StableDir returns the root directory for promoted stable artifacts.
func (c *Config) StableDir() string {
	return filepath.Join(c.DataDir, "stable")
}

// ScratchDir returns the root directory for ephemeral build workspaces.
func (c *Config) ScratchDir() string {
	return filepath.Join(c.DataDir, "scratch")
}
