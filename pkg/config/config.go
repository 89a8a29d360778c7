// Package config holds the typed client configuration with documented
// defaults. A Config is assembled once at startup and treated as immutable
// afterward; the derived accessors hand each subsystem its own slice of it.
package config

import (
	"fmt"
	"time"

	"github.com/statwerk/istat-client/pkg/cache"
	"github.com/statwerk/istat-client/pkg/protocol"
	"github.com/statwerk/istat-client/pkg/ratelimit"
	"github.com/statwerk/istat-client/pkg/transport"
)

// DefaultBaseURL is the ISTAT SDMX dissemination service root.
const DefaultBaseURL = "https://esploradati.istat.it/SDMXWS"

// Config is the full client configuration.
type Config struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// Dialect selects the REST dialect ("legacy", "sdmx21" or "sdmx30").
	Dialect string

	// Agency is the maintenance agency id.
	Agency string

	// Provider is the sdmx21 provider path segment.
	Provider string

	// MinDelay is the minimum gap between any two outbound requests.
	MinDelay time.Duration

	// JitterFraction randomizes the throttle gap by ±fraction.
	JitterFraction float64

	// BanThreshold is the consecutive-429 count that marks a suspected ban.
	BanThreshold int

	// MaxRetries is the total attempt budget per request.
	MaxRetries int

	// InitialBackoff is the first retry wait when no Retry-After is sent.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the backoff per attempt.
	BackoffMultiplier float64

	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// BaseTTLDays is the minimum cache entry lifetime.
	BaseTTLDays int

	// TTLJitterDays staggers cache expirations across entries.
	TTLJitterDays int

	// RedisAddr is the Redis address for the metadata cache. Empty selects
	// the in-memory store.
	RedisAddr string
}

// Default returns the configuration matching the service's informally
// documented limits.
func Default() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Dialect:           string(protocol.DialectV1),
		Agency:            "IT1",
		Provider:          "all",
		MinDelay:          13 * time.Second,
		JitterFraction:    0.1,
		BanThreshold:      3,
		MaxRetries:        3,
		InitialBackoff:    60 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Second,
		RequestTimeout:    30 * time.Second,
		UserAgent:         "istat-client/1.0",
		BaseTTLDays:       14,
		TTLJitterDays:     7,
	}
}

// Validate checks the configuration for values the client cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if _, err := protocol.ParseDialect(c.Dialect); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}
	if c.MinDelay <= 0 {
		return fmt.Errorf("min_delay must be positive, got %s", c.MinDelay)
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return fmt.Errorf("jitter_fraction must be in [0, 1), got %g", c.JitterFraction)
	}
	if c.BanThreshold < 1 {
		return fmt.Errorf("ban_threshold must be at least 1, got %d", c.BanThreshold)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff %s is below initial_backoff %s", c.MaxBackoff, c.InitialBackoff)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.BaseTTLDays < 1 {
		return fmt.Errorf("base_ttl_days must be at least 1, got %d", c.BaseTTLDays)
	}
	if c.TTLJitterDays < 1 {
		return fmt.Errorf("ttl_jitter_days must be at least 1, got %d", c.TTLJitterDays)
	}
	return nil
}

// ParsedDialect returns the configured dialect. Call Validate first.
func (c Config) ParsedDialect() protocol.Dialect {
	d, _ := protocol.ParseDialect(c.Dialect)
	return d
}

// RateLimit returns the rate limiter slice of the configuration.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		MinDelay:       c.MinDelay,
		JitterFraction: c.JitterFraction,
		BanThreshold:   c.BanThreshold,
	}
}

// Transport returns the transport slice of the configuration.
func (c Config) Transport() transport.Config {
	return transport.Config{
		MaxRetries:        c.MaxRetries,
		InitialBackoff:    c.InitialBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxBackoff:        c.MaxBackoff,
		RequestTimeout:    c.RequestTimeout,
		UserAgent:         c.UserAgent,
	}
}

// Cache returns the metadata cache slice of the configuration.
func (c Config) Cache() cache.Config {
	return cache.Config{
		BaseTTLDays:      c.BaseTTLDays,
		JitterWindowDays: c.TTLJitterDays,
	}
}

// Builder returns the URL builder slice of the configuration.
func (c Config) Builder() protocol.BuilderConfig {
	return protocol.BuilderConfig{
		BaseURL:  c.BaseURL,
		Agency:   c.Agency,
		Provider: c.Provider,
	}
}
