// Package otelmetrics records outbox dispatcher metrics with OpenTelemetry instruments.
package otelmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/velmie/reliable/outbox"
)

const namespace = "reliable.outbox."

// Option configures Metrics.
type Option func(*Metrics)

// WithAttributes attaches attrs to every measurement, e.g. the outbox table name.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(m *Metrics) {
		m.attrs = append(m.attrs, attrs...)
	}
}

// Metrics implements outbox.Metrics.
type Metrics struct {
	batchDuration metric.Float64Histogram
	claimed       metric.Int64Counter
	processed     metric.Int64Counter
	errors        metric.Int64Counter
	retries       metric.Int64Counter
	failed        metric.Int64Counter
	stale         metric.Int64Counter
	pending       metric.Int64Gauge
	attrs         []attribute.KeyValue
	set           metric.MeasurementOption
}

var _ outbox.Metrics = (*Metrics)(nil)

// New creates the instruments on meter.
func New(meter metric.Meter, opts ...Option) (*Metrics, error) {
	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}
	m.set = metric.WithAttributes(m.attrs...)

	var err error
	if m.batchDuration, err = meter.Float64Histogram(
		namespace+"batch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent delivering one claimed batch."),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: batch duration histogram: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.claimed, "claimed", "Entries leased by the dispatcher."},
		{&m.processed, "processed", "Entries delivered successfully."},
		{&m.errors, "errors", "Handler errors."},
		{&m.retries, "retries", "Entries rescheduled for another attempt."},
		{&m.failed, "failed", "Entries marked failed."},
		{&m.stale, "stale", "Acks dropped because the claim moved on."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(namespace+c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("otelmetrics: %s counter: %w", c.name, err)
		}
	}

	if m.pending, err = meter.Int64Gauge(
		namespace+"pending",
		metric.WithDescription("Entries waiting for delivery."),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: pending gauge: %w", err)
	}

	return m, nil
}

func (m *Metrics) ObserveBatchDuration(duration time.Duration) {
	m.batchDuration.Record(context.Background(), duration.Seconds(), m.set)
}

func (m *Metrics) AddClaimed(count int)   { m.add(m.claimed, count) }
func (m *Metrics) AddProcessed(count int) { m.add(m.processed, count) }
func (m *Metrics) AddErrors(count int)    { m.add(m.errors, count) }
func (m *Metrics) AddRetries(count int)   { m.add(m.retries, count) }
func (m *Metrics) AddFailed(count int)    { m.add(m.failed, count) }
func (m *Metrics) AddStale(count int)     { m.add(m.stale, count) }

func (m *Metrics) SetPending(count int) {
	m.pending.Record(context.Background(), int64(count), m.set)
}

func (m *Metrics) add(counter metric.Int64Counter, count int) {
	if count <= 0 {
		return
	}
	counter.Add(context.Background(), int64(count), m.set)
}
