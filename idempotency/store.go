package idempotency

import (
	"context"
	"time"
)

// Store persists idempotency records. Each method is a single atomic round trip.
type Store interface {
	// Insert creates the record or returns ErrDuplicate when the key exists.
	Insert(ctx context.Context, record Record) error
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, key Key) (Record, error)
	// DeleteExpired removes the record if it expired at now and reports whether it did.
	DeleteExpired(ctx context.Context, key Key, now time.Time) (bool, error)
	// Finish moves a processing record holding result.ClaimToken to result.Status.
	// It returns ErrNotProcessing when the record is missing, terminal or held by another claim.
	Finish(ctx context.Context, key Key, result Result) error
	// Reclaim moves a failed record with the same payload hash back to processing
	// under takeover.ClaimToken.
	// It returns ErrRecordChanged when no such record exists.
	Reclaim(ctx context.Context, key Key, takeover Takeover) error
	// Prune deletes up to limit records that expired before now.
	Prune(ctx context.Context, now time.Time, limit int) (int64, error)
}
