package idempotency

import (
	"time"

	"github.com/velmie/reliable"
)

const (
	// DefaultCompletedTTL keeps completed records replayable for a day.
	DefaultCompletedTTL = 24 * time.Hour
	// DefaultFailedTTL keeps failures longer so clients see them on retry.
	DefaultFailedTTL = 7 * 24 * time.Hour
	// DefaultProcessingTTL releases keys held by requests that never finished.
	DefaultProcessingTTL = time.Hour

	defaultClaimAttempts = 3
)

// Config controls Ledger behavior.
type Config struct {
	CompletedTTL  time.Duration
	FailedTTL     time.Duration
	ProcessingTTL time.Duration
	RetryFailed   bool
	ClaimAttempts int
	Clock         reliable.Clock
	Logger        reliable.Logger
}

func (c Config) withDefaults() Config {
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = DefaultCompletedTTL
	}
	if c.FailedTTL <= 0 {
		c.FailedTTL = DefaultFailedTTL
	}
	if c.ProcessingTTL <= 0 {
		c.ProcessingTTL = DefaultProcessingTTL
	}
	if c.ClaimAttempts <= 0 {
		c.ClaimAttempts = defaultClaimAttempts
	}
	if c.Clock == nil {
		c.Clock = reliable.SystemClock{}
	}
	c.Logger = reliable.LoggerOrNop(c.Logger)

	return c
}

// Option configures a Ledger.
type Option func(*Config)

// WithCompletedTTL sets how long completed records are replayed.
func WithCompletedTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CompletedTTL = ttl
	}
}

// WithFailedTTL sets how long failed records are kept.
func WithFailedTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.FailedTTL = ttl
	}
}

// WithProcessingTTL sets how long an unfinished claim holds the key.
func WithProcessingTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.ProcessingTTL = ttl
	}
}

// WithRetryFailed lets a claim with the same payload take over a failed record.
func WithRetryFailed(enabled bool) Option {
	return func(c *Config) {
		c.RetryFailed = enabled
	}
}

// WithClaimAttempts bounds how many insert races a claim retries.
func WithClaimAttempts(attempts int) Option {
	return func(c *Config) {
		c.ClaimAttempts = attempts
	}
}

// WithClock sets the ledger clock.
func WithClock(clock reliable.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger reliable.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
