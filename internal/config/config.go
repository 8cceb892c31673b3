// Package config loads the tracker-proxy configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/tracker-client/pkg/cache"
	"github.com/Sternrassler/tracker-client/pkg/client"
	"github.com/Sternrassler/tracker-client/pkg/logging"
	"github.com/Sternrassler/tracker-client/pkg/netstatus"
)

// Config represents the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Network  NetworkConfig  `yaml:"network"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig describes the tracker API being proxied.
type UpstreamConfig struct {
	BaseURL           string            `yaml:"base_url"`
	UserAgent         string            `yaml:"user_agent"`
	Headers           map[string]string `yaml:"headers"` // e.g. Authorization: ${LINEAR_API_KEY}
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"` // 0 = unlimited
}

// RetryConfig mirrors client.RetryPolicy.
type RetryConfig struct {
	MaxRetries          *int          `yaml:"max_retries"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	RetryableStatuses   []int         `yaml:"retryable_statuses"`
	RetryOnNetworkError *bool         `yaml:"retry_on_network_error"`
	RateLimitFloor      time.Duration `yaml:"rate_limit_floor"`
}

// CacheConfig holds the response cache settings.
type CacheConfig struct {
	MaxSize       int           `yaml:"max_size"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 = lazy expiry only
	Enabled       *bool         `yaml:"enabled"`
}

// NetworkConfig holds the network status thresholds.
type NetworkConfig struct {
	FailureThreshold  int `yaml:"failure_threshold"`
	RecoveryThreshold int `yaml:"recovery_threshold"`
}

// RedisConfig enables publishing network status to Redis. An empty Addr
// disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console output instead of JSON
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Long enough for a request that backs off after a 429.
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "tracker-proxy/1.0"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = client.DefaultTimeout
	}

	def := client.DefaultRetryPolicy()
	if c.Retry.MaxRetries == nil {
		n := def.MaxRetries
		c.Retry.MaxRetries = &n
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.RetryOnNetworkError == nil {
		v := def.RetryOnNetworkError()
		c.Retry.RetryOnNetworkError = &v
	}
	if c.Retry.RateLimitFloor == 0 {
		c.Retry.RateLimitFloor = def.RateLimitFloor
	}

	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = cache.DefaultMaxSize
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = cache.TTLDefault
	}
	if c.Cache.Enabled == nil {
		v := true
		c.Cache.Enabled = &v
	}

	if c.Network.FailureThreshold == 0 {
		c.Network.FailureThreshold = netstatus.DefaultFailureThreshold
	}
	if c.Network.RecoveryThreshold == 0 {
		c.Network.RecoveryThreshold = netstatus.DefaultRecoveryThreshold
	}

	if c.Redis.PublishTimeout == 0 {
		c.Redis.PublishTimeout = netstatus.DefaultPublishTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LevelInfo)
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url must be an absolute URL (got %q)", c.Upstream.BaseURL))
	}
	if c.Upstream.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("upstream.requests_per_second must be >= 0 (got %g)", c.Upstream.RequestsPerSecond))
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	for _, s := range c.Retry.RetryableStatuses {
		if s < 100 || s > 599 {
			errs = append(errs, fmt.Errorf("retry.retryable_statuses: invalid HTTP status %d", s))
		}
	}

	if c.Cache.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("cache.max_size must be >= 0 (got %d)", c.Cache.MaxSize))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl must be >= 0 (got %s)", c.Cache.DefaultTTL))
	}

	if c.Network.FailureThreshold < 1 || c.Network.RecoveryThreshold < 1 {
		errs = append(errs, errors.New("network thresholds must be >= 1"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// RetryPolicy converts the retry section into a client.RetryPolicy.
// Without retryable_statuses the default status set applies.
func (c *Config) RetryPolicy() client.RetryPolicy {
	p := client.DefaultRetryPolicy().
		WithDelays(c.Retry.BaseDelay, c.Retry.MaxDelay).
		WithRateLimitFloor(c.Retry.RateLimitFloor)

	if c.Retry.MaxRetries != nil {
		p = p.WithMaxRetries(*c.Retry.MaxRetries)
	}
	if c.Retry.RetryOnNetworkError != nil {
		p = p.WithRetryOnNetworkError(*c.Retry.RetryOnNetworkError)
	}
	if len(c.Retry.RetryableStatuses) > 0 {
		p = p.WithRetryableStatuses(c.Retry.RetryableStatuses...)
	}
	return p
}

// ClientConfig builds the upstream client configuration. The tracker and
// logger are wired by the caller.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Upstream.BaseURL, c.Upstream.UserAgent)
	cfg.DefaultHeaders = c.Upstream.Headers
	cfg.Policy = c.RetryPolicy()
	cfg.Timeout = c.Upstream.Timeout
	cfg.RequestsPerSecond = c.Upstream.RequestsPerSecond
	return cfg
}

// CacheConfig builds the response cache configuration.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Name:       "proxy",
		MaxSize:    c.Cache.MaxSize,
		DefaultTTL: c.Cache.DefaultTTL,
	}
}

// CacheEnabled reports whether GET responses are cached.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// TrackerConfig builds the network status tracker configuration.
func (c *Config) TrackerConfig() netstatus.Config {
	return netstatus.Config{
		FailureThreshold:  c.Network.FailureThreshold,
		RecoveryThreshold: c.Network.RecoveryThreshold,
	}
}

// LoggingConfig builds the logger configuration. Output defaults to stderr.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
