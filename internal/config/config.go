package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Provider  ProviderConfig  `yaml:"provider"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Sync      SyncConfig      `yaml:"sync"`
	Notify    NotifyConfig    `yaml:"notify"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// APIConfig contains configuration for the service's own API surface.
type APIConfig struct {
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig contains API-key authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// ProviderConfig describes the wearable provider's OAuth application and
// endpoints. Endpoints are configurable so tests can point at a mock server.
type ProviderConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	BaseURL      string        `yaml:"base_url"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	RevokeURL    string        `yaml:"revoke_url"`
	RedirectURI  string        `yaml:"redirect_uri"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	ExpiryMargin time.Duration `yaml:"expiry_margin"`
}

// RateLimitConfig configures the provider-facing sliding-window limiter.
type RateLimitConfig struct {
	PerMinute  int           `yaml:"per_minute"`
	PerDay     int           `yaml:"per_day"`
	MinSpacing time.Duration `yaml:"min_spacing"`
}

// RetryConfig configures transient-failure retries of provider calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RateLimitRetries  int           `yaml:"rate_limit_retries"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
}

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CacheConfig configures the idempotent-GET response cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// SyncConfig configures the background sync collector.
type SyncConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Lookback      time.Duration `yaml:"lookback"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// NotifyConfig configures operator notifications for reauth-required events.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when a field is absent from YAML.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8415,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
		API: APIConfig{
			Auth: AuthConfig{
				HeaderName: "X-API-Key",
			},
		},
		Provider: ProviderConfig{
			Timeout:      15 * time.Second,
			ExpiryMargin: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			PerMinute:  100,
			PerDay:     10000,
			MinSpacing: 600 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseBackoff:       500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			RateLimitRetries:  2,
			DefaultRetryAfter: 5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			TTL:      60 * time.Second,
			Capacity: 1024,
		},
		Sync: SyncConfig{
			Interval:      15 * time.Minute,
			Lookback:      24 * time.Hour,
			MaxConcurrent: 4,
		},
		Database: DatabaseConfig{
			Path: "./data/vitalsync.db",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be in (0, 65535], got %d", s.HTTPPort)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", s.LogLevel)
	}
	return nil
}

// Validate checks provider configuration.
func (p *ProviderConfig) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if p.TokenURL == "" {
		return fmt.Errorf("provider.token_url is required")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if p.ExpiryMargin < 0 {
		return fmt.Errorf("provider.expiry_margin must not be negative")
	}
	return nil
}

// Validate checks rate limit configuration.
func (r *RateLimitConfig) Validate() error {
	if r.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive")
	}
	if r.PerDay <= 0 {
		return fmt.Errorf("rate_limit.per_day must be positive")
	}
	if r.PerDay < r.PerMinute {
		return fmt.Errorf("rate_limit.per_day must not be below per_minute")
	}
	if r.MinSpacing < 0 {
		return fmt.Errorf("rate_limit.min_spacing must not be negative")
	}
	return nil
}

// Validate checks retry configuration.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if r.BaseBackoff <= 0 {
		return fmt.Errorf("retry.base_backoff must be positive")
	}
	if r.MaxBackoff < r.BaseBackoff {
		return fmt.Errorf("retry.max_backoff must not be below base_backoff")
	}
	if r.RateLimitRetries < 0 {
		return fmt.Errorf("retry.rate_limit_retries must not be negative")
	}
	return nil
}

// Validate checks circuit breaker configuration.
func (b *BreakerConfig) Validate() error {
	if b.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}
	if b.Cooldown <= 0 {
		return fmt.Errorf("circuit_breaker.cooldown must be positive")
	}
	return nil
}

// Validate checks cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when cache is enabled")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive when cache is enabled")
	}
	return nil
}

// Validate checks sync collector configuration.
func (s *SyncConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive when sync is enabled")
	}
	if s.Lookback <= 0 {
		return fmt.Errorf("sync.lookback must be positive when sync is enabled")
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent must be at least 1")
	}
	return nil
}
