package outbox

import (
	"context"
	"time"
)

// DefaultLeaseDuration is how long a claim stays exclusive.
const DefaultLeaseDuration = 5 * time.Minute

// ClaimOptions controls a single claim call.
type ClaimOptions struct {
	BatchSize     int
	LeaseDuration time.Duration
}

// Validate checks the claim bounds.
func (o ClaimOptions) Validate() error {
	if o.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if o.LeaseDuration <= 0 {
		return ErrInvalidLeaseDuration
	}

	return nil
}

// Claimer leases due entries and accepts their acknowledgements.
type Claimer interface {
	// Claim leases up to BatchSize claimable entries, oldest first.
	// Each returned record carries the claim id and incremented attempt count.
	// An empty slice means nothing is due.
	Claim(ctx context.Context, opts ClaimOptions) ([]Record, error)
	// Ack applies an outcome if the claim is still current and returns the resulting status.
	// It returns ErrStaleClaim when the entry was reclaimed or acked already.
	Ack(ctx context.Context, ack Ack) (Status, error)
	// HasClaimable reports whether at least one entry is claimable with the given lease.
	HasClaimable(ctx context.Context, lease time.Duration) (bool, error)
}

// PendingCounter exposes the number of entries waiting for delivery.
type PendingCounter interface {
	// PendingCount returns the number of pending entries.
	PendingCount(ctx context.Context) (int, error)
}

// AbandonedError is recorded on entries whose final attempt lost its lease.
const AbandonedError = "lease expired on final attempt"

// ExpireOptions bounds an overdue or abandoned sweep.
type ExpireOptions struct {
	Now           time.Time
	LeaseDuration time.Duration
	Limit         int
}

// PruneOptions bounds a terminal-entry prune.
type PruneOptions struct {
	// Before removes terminal entries last updated before this instant.
	Before time.Time
	Limit  int
}

// Sweeper maintains the outbox table.
type Sweeper interface {
	// ExpireOverdue marks entries past expires_at as expired and returns how many changed.
	ExpireOverdue(ctx context.Context, opts ExpireOptions) (int64, error)
	// FailAbandoned marks failed the in_progress entries whose lease lapsed on the final
	// attempt allowed by the store's Policy and returns how many changed.
	FailAbandoned(ctx context.Context, opts ExpireOptions) (int64, error)
	// PruneTerminal deletes old terminal entries and returns how many were removed.
	PruneTerminal(ctx context.Context, opts PruneOptions) (int64, error)
}
