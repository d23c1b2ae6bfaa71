package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/velmie/reliable"
)

// Request describes a single admission check.
type Request struct {
	ActorID  string
	Resource string
	Limit    int64
	Window   time.Duration
	// Increment defaults to 1 when zero.
	Increment int64
}

func (r Request) validate() error {
	switch {
	case r.ActorID == "":
		return ErrActorRequired
	case r.Resource == "":
		return ErrResourceRequired
	case r.Limit <= 0:
		return ErrInvalidLimit
	case r.Window < time.Millisecond:
		return ErrInvalidWindow
	case r.Increment < 0:
		return ErrInvalidIncrement
	}

	return nil
}

// Decision is the result of CheckAndIncrement.
type Decision struct {
	Allowed     bool
	Current     int64
	Limit       int64
	WindowStart time.Time
	WindowEnd   time.Time
	// RetryAfter is zero when allowed, otherwise the time left in the window.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}

	return int64((d.RetryAfter + time.Second - 1) / time.Second)
}

// Remaining returns how many units are left in the window.
func (d Decision) Remaining() int64 {
	return max(d.Limit-d.Current, 0)
}

// Config controls Limiter behavior.
type Config struct {
	Clock  reliable.Clock
	Logger reliable.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = reliable.SystemClock{}
	}
	c.Logger = reliable.LoggerOrNop(c.Logger)

	return c
}

// Option configures a Limiter.
type Option func(*Config)

// WithClock sets the clock used for window alignment.
func WithClock(clock reliable.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the limiter logger.
func WithLogger(logger reliable.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Limiter counts usage in fixed windows.
type Limiter struct {
	store CounterStore
	cfg   Config
}

// NewLimiter constructs a Limiter over store.
func NewLimiter(store CounterStore, opts ...Option) *Limiter {
	if store == nil {
		panic("ratelimit: nil CounterStore")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Limiter{store: store, cfg: cfg.withDefaults()}
}

// CheckAndIncrement records the attempt and reports whether it fits the limit.
// Rejected attempts are still counted.
func (l *Limiter) CheckAndIncrement(ctx context.Context, req Request) (Decision, error) {
	if err := req.validate(); err != nil {
		return Decision{}, err
	}
	by := req.Increment
	if by == 0 {
		by = 1
	}

	now := l.cfg.Clock.Now()
	start := WindowStart(now, req.Window)
	end := start.Add(req.Window)

	current, err := l.store.Increment(ctx, CounterKey{
		ActorID:     req.ActorID,
		Resource:    req.Resource,
		WindowStart: start,
	}, by, end)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit increment failed: %w", err)
	}

	decision := Decision{
		Allowed:     current <= req.Limit,
		Current:     current,
		Limit:       req.Limit,
		WindowStart: start,
		WindowEnd:   end,
	}
	if !decision.Allowed {
		decision.RetryAfter = max(end.Sub(now), 0)
		l.cfg.Logger.Debug("ratelimit exceeded",
			"actor", req.ActorID, "resource", req.Resource, "current", current, "limit", req.Limit)
	}

	return decision, nil
}

// WindowStart truncates now to the start of its window, counted from the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := now.UnixMilli()
	size := window.Milliseconds()
	if size <= 0 {
		return now.UTC()
	}

	offset := ms % size
	if offset < 0 {
		offset += size
	}

	return time.UnixMilli(ms - offset).UTC()
}
