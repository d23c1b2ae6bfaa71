package prune

import (
	"context"
	"time"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/outbox"
)

const (
	// DefaultInterval is the pause between periodic runs.
	DefaultInterval = time.Hour
	// DefaultLimit caps rows touched per store per run.
	DefaultLimit = 10000
	// DefaultOutboxRetention keeps terminal outbox entries for a week.
	DefaultOutboxRetention = 7 * 24 * time.Hour
)

// ExpiredPruner deletes rows whose expires_at has passed.
// idempotency.Store and ratelimit.CounterStore both satisfy it.
type ExpiredPruner interface {
	Prune(ctx context.Context, now time.Time, limit int) (int64, error)
}

// Locker guards a run so only one process prunes at a time.
// mysql.AdvisoryLock and postgres.AdvisoryLock satisfy it.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Config controls a Pruner.
type Config struct {
	Interval        time.Duration
	Limit           int
	OutboxRetention time.Duration
	// LeaseDuration must match the dispatcher lease; leased entries are not expired before it lapses.
	LeaseDuration time.Duration
	Clock         reliable.Clock
	Logger        reliable.Logger
	Locker        Locker

	outbox      outbox.Sweeper
	idempotency ExpiredPruner
	rateLimit   ExpiredPruner
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.OutboxRetention == 0 {
		c.OutboxRetention = DefaultOutboxRetention
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = outbox.DefaultLeaseDuration
	}
	if c.Clock == nil {
		c.Clock = reliable.SystemClock{}
	}
	c.Logger = reliable.LoggerOrNop(c.Logger)

	return c
}

// Option configures a Pruner.
type Option func(*Config)

// WithOutbox adds the outbox store: overdue entries are expired, old terminal ones deleted.
func WithOutbox(store outbox.Sweeper) Option {
	return func(c *Config) {
		c.outbox = store
	}
}

// WithIdempotency adds the idempotency store.
func WithIdempotency(store ExpiredPruner) Option {
	return func(c *Config) {
		c.idempotency = store
	}
}

// WithRateLimit adds the rate-limit counter store.
func WithRateLimit(store ExpiredPruner) Option {
	return func(c *Config) {
		c.rateLimit = store
	}
}

func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

func WithLimit(limit int) Option {
	return func(c *Config) {
		c.Limit = limit
	}
}

func WithOutboxRetention(d time.Duration) Option {
	return func(c *Config) {
		c.OutboxRetention = d
	}
}

// WithLeaseDuration sets the lease the outbox sweep honours. Pass the value given to
// outbox.WithLeaseDuration; a shorter lease lets the sweep expire entries still being handled.
func WithLeaseDuration(d time.Duration) Option {
	return func(c *Config) {
		c.LeaseDuration = d
	}
}

func WithClock(clock reliable.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithLogger(logger reliable.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithLocker makes each run skip when another process holds the lock.
func WithLocker(locker Locker) Option {
	return func(c *Config) {
		c.Locker = locker
	}
}
