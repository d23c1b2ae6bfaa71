package outbox

import "time"

// Metrics captures dispatcher telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to process a claimed batch.
	ObserveBatchDuration(duration time.Duration)
	// AddClaimed increments the count of leased entries.
	AddClaimed(count int)
	// AddProcessed increments the count of delivered entries.
	AddProcessed(count int)
	// AddErrors increments the count of handler errors.
	AddErrors(count int)
	// AddRetries increments the count of entries rescheduled for another attempt.
	AddRetries(count int)
	// AddFailed increments the count of entries marked failed.
	AddFailed(count int)
	// AddStale increments the count of acks rejected because the claim moved on.
	AddStale(count int)
	// SetPending updates the current pending entry count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddClaimed implements Metrics.
func (NopMetrics) AddClaimed(int) {}

// AddProcessed implements Metrics.
func (NopMetrics) AddProcessed(int) {}

// AddErrors implements Metrics.
func (NopMetrics) AddErrors(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddStale implements Metrics.
func (NopMetrics) AddStale(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
