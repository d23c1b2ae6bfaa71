package ratelimit

import (
	"context"
	"time"
)

// CounterKey identifies one counter row.
type CounterKey struct {
	ActorID     string
	Resource    string
	WindowStart time.Time
}

// CounterStore persists fixed-window counters.
type CounterStore interface {
	// Increment atomically adds by to the counter, creating it with expiresAt if absent,
	// and returns the resulting value.
	Increment(ctx context.Context, key CounterKey, by int64, expiresAt time.Time) (int64, error)
	// Prune deletes up to limit counters that expired before now.
	Prune(ctx context.Context, now time.Time, limit int) (int64, error)
}
