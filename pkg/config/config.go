package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the archiver.
type Config struct {
	// Scratch platform settings
	Scratch ScratchConfig `yaml:"scratch" json:"scratch"`

	// Rate limiting configuration (per hostname)
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Persistent request cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Retry behavior for transient upstream failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Archive output settings
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScratchConfig holds platform-specific configuration.
type ScratchConfig struct {
	Username  string `yaml:"username" json:"username"`
	SessionID string `yaml:"session_id" json:"session_id"`
	XToken    string `yaml:"x_token" json:"x_token"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// RateLimitConfig holds the per-hostname token bucket parameters.
type RateLimitConfig struct {
	TokensPerInterval int           `yaml:"tokens_per_interval" json:"tokens_per_interval"`
	Interval          time.Duration `yaml:"interval" json:"interval"`
}

// CacheConfig holds request cache settings.
type CacheConfig struct {
	// Directory for the cache database. Empty means the platform cache dir.
	Directory string `yaml:"directory" json:"directory"`
	Disabled  bool   `yaml:"disabled" json:"disabled"`
}

// RetryConfig holds retry/backoff settings.
// MaxAttempts of 0 means retry indefinitely.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// ArchiveConfig holds archive tree settings.
type ArchiveConfig struct {
	Root         string `yaml:"root" json:"root"`
	DefaultLevel int    `yaml:"default_level" json:"default_level"`
	StoreAsYouGo bool   `yaml:"store_as_you_go" json:"store_as_you_go"`
	// BinaryDownloads toggles fetching project binaries alongside the
	// JSON snapshots.
	BinaryDownloads bool `yaml:"binary_downloads" json:"binary_downloads"`
	DownloadWorkers int  `yaml:"download_workers" json:"download_workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scratch: ScratchConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.101 Safari/537.36",
		},
		RateLimit: RateLimitConfig{
			TokensPerInterval: 10,
			Interval:          time.Second,
		},
		Cache: CacheConfig{},
		Retry: RetryConfig{
			MaxAttempts:  0, // unlimited
			InitialDelay: 10 * time.Second,
			MaxDelay:     5 * time.Minute,
			Multiplier:   2.0,
		},
		Archive: ArchiveConfig{
			Root:            "./ScratchArchive",
			DefaultLevel:    0,
			StoreAsYouGo:    false,
			BinaryDownloads: true,
			DownloadWorkers: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv overlays configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	if username := os.Getenv("SCRATCHARCHIVE_USERNAME"); username != "" {
		c.Scratch.Username = username
	}
	if sessionID := os.Getenv("SCRATCHARCHIVE_SESSION_ID"); sessionID != "" {
		c.Scratch.SessionID = sessionID
	}
	if xToken := os.Getenv("SCRATCHARCHIVE_XTOKEN"); xToken != "" {
		c.Scratch.XToken = xToken
	}
	if userAgent := os.Getenv("SCRATCHARCHIVE_USER_AGENT"); userAgent != "" {
		c.Scratch.UserAgent = userAgent
	}
	if root := os.Getenv("SCRATCHARCHIVE_ROOT"); root != "" {
		c.Archive.Root = root
	}
	if cacheDir := os.Getenv("SCRATCHARCHIVE_CACHE_DIR"); cacheDir != "" {
		c.Cache.Directory = cacheDir
	}
	if tokens := os.Getenv("SCRATCHARCHIVE_RATE_TOKENS"); tokens != "" {
		if val, err := strconv.Atoi(tokens); err == nil && val > 0 {
			c.RateLimit.TokensPerInterval = val
		}
	}
	if level := os.Getenv("SCRATCHARCHIVE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// LoadFromFile overlays configuration from a YAML file. An empty path falls
// back to the default locations; a missing default file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// findConfigFile looks for a config file in the default locations.
func (c *Config) findConfigFile() string {
	candidates := []string{
		".scratcharchive.yaml",
		".scratcharchive.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".scratcharchive.yaml"),
			filepath.Join(home, ".config", "scratcharchive", "config.yaml"),
		)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load builds the effective configuration: defaults, then .env, then the
// config file, then environment overrides.
func Load(configPath string) (*Config, error) {
	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.RateLimit.TokensPerInterval <= 0 {
		return errors.New("rate_limit.tokens_per_interval must be positive")
	}
	if c.RateLimit.Interval <= 0 {
		return errors.New("rate_limit.interval must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must not be negative")
	}
	if c.Retry.InitialDelay <= 0 {
		return errors.New("retry.initial_delay must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	if c.Archive.Root == "" {
		return errors.New("archive.root must not be empty")
	}
	if c.Archive.DefaultLevel < 0 {
		return errors.New("archive.default_level must not be negative")
	}
	if c.Archive.DownloadWorkers <= 0 {
		return errors.New("archive.download_workers must be positive")
	}
	return nil
}
