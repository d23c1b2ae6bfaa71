package postgres

import (
	"time"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/backoff"
	"github.com/velmie/reliable/outbox"
)

// Config defines PostgreSQL store behavior.
type Config struct {
	Tables Tables
	Policy outbox.Policy
	Clock  reliable.Clock
}

func (c Config) withDefaults() Config {
	c.Tables = c.Tables.withDefaults()
	c.Policy = c.Policy.WithDefaults()
	if c.Clock == nil {
		c.Clock = reliable.SystemClock{}
	}

	return c
}

func newConfig(opts []Option) (Config, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	tables, err := cfg.Tables.sanitized()
	if err != nil {
		return Config{}, err
	}
	cfg.Tables = tables

	return cfg, nil
}

// Option configures the PostgreSQL stores.
type Option func(*Config)

// WithTable sets the outbox table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Tables.Outbox = name
	}
}

// WithIdempotencyTable sets the idempotency table name.
func WithIdempotencyTable(name string) Option {
	return func(c *Config) {
		c.Tables.Idempotency = name
	}
}

// WithCounterTable sets the rate-limit counter table name.
func WithCounterTable(name string) Option {
	return func(c *Config) {
		c.Tables.Counters = name
	}
}

// WithTables sets all table names at once. Empty names keep their defaults.
func WithTables(tables Tables) Option {
	return func(c *Config) {
		c.Tables = tables
	}
}

// WithMaxAttempts sets the retry limit before an entry is marked failed.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.Policy.MaxAttempts = attempts
	}
}

// WithBackoff sets the delivery retry backoff.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(c *Config) {
		c.Policy.Backoff = strategy
	}
}

// WithDefaultTTL sets expires_at for entries enqueued without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.Policy.DefaultTTL = ttl
	}
}

// WithClock sets the time source used by the stores.
func WithClock(clock reliable.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
