package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/velmie/reliable/idempotency"
)

// IdempotencyStore is an in-memory idempotency.Store.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[idempotency.Key]idempotency.Record
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore returns an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[idempotency.Key]idempotency.Record)}
}

// Insert implements idempotency.Store.
func (s *IdempotencyStore) Insert(ctx context.Context, record idempotency.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.Key]; ok {
		return idempotency.ErrDuplicate
	}
	s.records[record.Key] = cloneIdempotency(record)

	return nil
}

// Get implements idempotency.Store.
func (s *IdempotencyStore) Get(ctx context.Context, key idempotency.Key) (idempotency.Record, error) {
	if err := ctx.Err(); err != nil {
		return idempotency.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return idempotency.Record{}, idempotency.ErrRecordNotFound
	}

	return cloneIdempotency(rec), nil
}

// DeleteExpired implements idempotency.Store.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key idempotency.Key, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !rec.Expired(now) {
		return false, nil
	}
	delete(s.records, key)

	return true, nil
}

// Finish implements idempotency.Store.
func (s *IdempotencyStore) Finish(ctx context.Context, key idempotency.Key, result idempotency.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != idempotency.StatusProcessing || rec.ClaimToken != result.ClaimToken {
		return idempotency.ErrNotProcessing
	}
	rec.Status = result.Status
	rec.ResponsePayload = slices.Clone(result.ResponsePayload)
	rec.ResponseStatus = result.ResponseStatus
	rec.ErrorDetails = result.ErrorDetails
	rec.ExpiresAt = result.ExpiresAt
	s.records[key] = rec

	return nil
}

// Reclaim implements idempotency.Store.
func (s *IdempotencyStore) Reclaim(ctx context.Context, key idempotency.Key, takeover idempotency.Takeover) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != idempotency.StatusFailed || rec.PayloadHash != takeover.PayloadHash {
		return idempotency.ErrRecordChanged
	}
	rec.Status = idempotency.StatusProcessing
	rec.ClientTxID = takeover.ClientTxID
	rec.ClaimToken = takeover.ClaimToken
	rec.ErrorDetails = ""
	rec.ExpiresAt = takeover.ExpiresAt
	s.records[key] = rec

	return nil
}

// Prune implements idempotency.Store.
func (s *IdempotencyStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if limit > 0 && n == int64(limit) {
			break
		}
		if rec.Expired(now) {
			delete(s.records, key)
			n++
		}
	}

	return n, nil
}

func cloneIdempotency(rec idempotency.Record) idempotency.Record {
	rec.ResponsePayload = slices.Clone(rec.ResponsePayload)

	return rec
}
