package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/codegraph/graphlink/internal/transport"
)

// Config holds all client settings
type Config struct {
	// Logical namespace for graph entities
	Space string `yaml:"space"`

	// Server endpoints as host:port strings
	Endpoints []string `yaml:"endpoints"`

	// Pool configuration
	Pool PoolConfig `yaml:"pool"`

	// Dispatch configuration
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Session lifecycle configuration
	Session SessionConfig `yaml:"session"`

	// Retry policy
	Retry RetryConfig `yaml:"retry"`

	// Circuit breaker policy
	Breaker BreakerConfig `yaml:"breaker"`

	// Fallback cache configuration
	Cache CacheConfig `yaml:"cache"`
}

type PoolConfig struct {
	Size         int           `yaml:"size"`          // Connections per endpoint
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
}

type DispatchConfig struct {
	BufferSize     int           `yaml:"buffer_size"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
	MaxQPS         float64       `yaml:"max_qps"` // 0 = unlimited
}

type SessionConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	ZombieThreshold time.Duration `yaml:"zombie_threshold"`
	CleanupTimeout  time.Duration `yaml:"cleanup_timeout"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownTimeout  time.Duration `yaml:"cooldown_timeout"`
	Strategy         string        `yaml:"strategy"` // "cache", "default", "error"
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"` // Empty disables the Redis store
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Space:     "graphlink",
		Endpoints: []string{"localhost:7687"},
		Pool: PoolConfig{
			Size:         4,
			PingInterval: 10 * time.Second,
			PingTimeout:  5 * time.Second,
		},
		Dispatch: DispatchConfig{
			BufferSize:     256,
			ExecuteTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			MonitorInterval: 30 * time.Second,
			ZombieThreshold: 60 * time.Second,
			CleanupTimeout:  5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownTimeout:  30 * time.Second,
			Strategy:         "error",
		},
		Cache: CacheConfig{
			TTL: 15 * time.Minute,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("space", cfg.Space)
	v.SetDefault("endpoints", cfg.Endpoints)
	v.SetDefault("pool", cfg.Pool)
	v.SetDefault("dispatch", cfg.Dispatch)
	v.SetDefault("session", cfg.Session)
	v.SetDefault("retry", cfg.Retry)
	v.SetDefault("breaker", cfg.Breaker)
	v.SetDefault("cache", cfg.Cache)

	// Load from environment variables
	v.SetEnvPrefix("GRAPHLINK")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".graphlink")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".graphlink"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".graphlink", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if space := os.Getenv("GRAPHLINK_SPACE"); space != "" {
		cfg.Space = space
	}
	if endpoints := os.Getenv("GRAPHLINK_ENDPOINTS"); endpoints != "" {
		cfg.Endpoints = splitAndTrim(endpoints)
	}

	// Pool configuration
	if size := os.Getenv("GRAPHLINK_POOL_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Pool.Size = n
		}
	}
	if interval := os.Getenv("GRAPHLINK_PING_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Pool.PingInterval = d
		}
	}

	// Dispatch configuration
	if size := os.Getenv("GRAPHLINK_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Dispatch.BufferSize = n
		}
	}
	if timeout := os.Getenv("GRAPHLINK_EXECUTE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Dispatch.ExecuteTimeout = d
		}
	}
	if qps := os.Getenv("GRAPHLINK_MAX_QPS"); qps != "" {
		if f, err := strconv.ParseFloat(qps, 64); err == nil {
			cfg.Dispatch.MaxQPS = f
		}
	}

	// Retry configuration
	if attempts := os.Getenv("GRAPHLINK_RETRY_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if delay := os.Getenv("GRAPHLINK_RETRY_BASE_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			cfg.Retry.BaseDelay = d
		}
	}

	// Breaker configuration
	if threshold := os.Getenv("GRAPHLINK_BREAKER_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if strategy := os.Getenv("GRAPHLINK_BREAKER_STRATEGY"); strategy != "" {
		cfg.Breaker.Strategy = strategy
	}

	// Cache configuration
	if url := os.Getenv("GRAPHLINK_REDIS_URL"); url != "" {
		cfg.Cache.RedisURL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" && cfg.Cache.RedisURL == "" {
		cfg.Cache.RedisURL = url
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range c.Endpoints {
		if _, err := transport.ParseEndpoint(ep); err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", ep, err)
		}
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.Pool.Size)
	}
	if c.Dispatch.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.Dispatch.BufferSize)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %v", c.Retry.BackoffFactor)
	}
	switch c.Breaker.Strategy {
	case "cache", "default", "error", "":
	default:
		return fmt.Errorf("unknown breaker strategy %q", c.Breaker.Strategy)
	}
	return nil
}

// ParsedEndpoints returns the endpoint list in transport form. Validate must
// have accepted the config first.
func (c *Config) ParsedEndpoints() []transport.Endpoint {
	out := make([]transport.Endpoint, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		parsed, err := transport.ParseEndpoint(ep)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("space", c.Space)
	v.Set("endpoints", c.Endpoints)
	v.Set("pool", c.Pool)
	v.Set("dispatch", c.Dispatch)
	v.Set("session", c.Session)
	v.Set("retry", c.Retry)
	v.Set("breaker", c.Breaker)
	v.Set("cache", c.Cache)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
