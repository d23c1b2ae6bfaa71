package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/reliable"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 50 * time.Millisecond
	defaultWorkers      = 1
	defaultPendingCheck = 0
	tracerName          = "github.com/velmie/reliable/outbox"
)

// FailureHandler is called when a handler returns an error.
type FailureHandler func(ctx context.Context, record Record, err error)

// DispatcherConfig defines how the Dispatcher claims and processes entries.
type DispatcherConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	Workers         int
	LeaseDuration   time.Duration
	Clock           reliable.Clock
	ErrorHandler    FailureHandler
	Logger          reliable.Logger
	Metrics         Metrics
	Classifier      Classifier
	HandlerTimeout  time.Duration
	PendingInterval time.Duration
	Tracer          trace.Tracer
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	// A handler must not outlive its lease.
	if c.HandlerTimeout <= 0 || c.HandlerTimeout > c.LeaseDuration {
		c.HandlerTimeout = c.LeaseDuration
	}
	if c.Clock == nil {
		c.Clock = reliable.SystemClock{}
	}
	c.Logger = reliable.LoggerOrNop(c.Logger)
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}

	return c
}

// DispatcherOption configures Dispatcher behavior.
type DispatcherOption func(*DispatcherConfig)

// WithBatchSize sets the number of entries claimed per call.
func WithBatchSize(size int) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent claiming workers.
func WithWorkers(count int) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Workers = count
	}
}

// WithLeaseDuration sets how long claimed entries stay exclusive.
// The pruner sweeping the same store must use the same value.
func WithLeaseDuration(lease time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.LeaseDuration = lease
	}
}

// WithClock sets the dispatcher clock.
func WithClock(clock reliable.Clock) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for handler failures.
func WithErrorHandler(handler FailureHandler) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger reliable.Logger) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Metrics = metrics
	}
}

// WithClassifier sets how handler errors map to outcomes.
func WithClassifier(classifier Classifier) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Classifier = classifier
	}
}

// WithHandlerTimeout sets a per-entry handler timeout. It is capped at the lease duration.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.PendingInterval = interval
	}
}

// WithTracer sets the tracer used for per-entry spans.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Tracer = tracer
	}
}
