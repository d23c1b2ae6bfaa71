package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/outbox"
)

// OutboxConfig configures an OutboxStore.
type OutboxConfig struct {
	Policy       outbox.Policy
	Clock        reliable.Clock
	ValidateJSON bool
}

// OutboxOption configures an OutboxStore.
type OutboxOption func(*OutboxConfig)

// WithPolicy sets retry and TTL rules.
func WithPolicy(policy outbox.Policy) OutboxOption {
	return func(c *OutboxConfig) {
		c.Policy = policy
	}
}

// WithClock sets the store clock.
func WithClock(clock reliable.Clock) OutboxOption {
	return func(c *OutboxConfig) {
		c.Clock = clock
	}
}

// WithValidateJSON toggles payload JSON validation on enqueue.
func WithValidateJSON(enabled bool) OutboxOption {
	return func(c *OutboxConfig) {
		c.ValidateJSON = enabled
	}
}

type slot struct {
	mu  sync.Mutex
	rec outbox.Record
}

// OutboxStore is an in-memory outbox.
type OutboxStore struct {
	cfg OutboxConfig

	mu    sync.RWMutex
	byID  map[uuid.UUID]*slot
	keys  map[string]uuid.UUID
	order []*slot
}

var (
	_ outbox.Claimer        = (*OutboxStore)(nil)
	_ outbox.PendingCounter = (*OutboxStore)(nil)
	_ outbox.Sweeper        = (*OutboxStore)(nil)
)

// NewOutboxStore returns an empty store.
func NewOutboxStore(opts ...OutboxOption) *OutboxStore {
	cfg := OutboxConfig{ValidateJSON: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Policy = cfg.Policy.WithDefaults()
	if cfg.Clock == nil {
		cfg.Clock = reliable.SystemClock{}
	}

	return &OutboxStore{
		cfg:  cfg,
		byID: make(map[uuid.UUID]*slot),
		keys: make(map[string]uuid.UUID),
	}
}

// Enqueue stores a new pending entry. It returns outbox.ErrConflict when the business key exists.
func (s *OutboxStore) Enqueue(ctx context.Context, entry outbox.Entry) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if err := outbox.ValidateEntry(entry, s.cfg.ValidateJSON); err != nil {
		return uuid.Nil, err
	}

	id := entry.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return uuid.Nil, err
		}
	}

	now := s.cfg.Clock.Now()
	rec := outbox.Record{
		ID:            id,
		ActionType:    entry.ActionType,
		Payload:       slices.Clone(entry.Payload),
		BusinessKey:   entry.BusinessKey,
		Status:        outbox.StatusPending,
		NextAttemptAt: entry.NotBefore,
		ExpiresAt:     s.cfg.Policy.ExpiresAt(entry, now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; ok {
		return uuid.Nil, outbox.ErrConflict
	}
	if entry.BusinessKey != "" {
		if _, ok := s.keys[entry.BusinessKey]; ok {
			return uuid.Nil, outbox.ErrConflict
		}
		s.keys[entry.BusinessKey] = id
	}
	sl := &slot{rec: rec}
	s.byID[id] = sl
	s.order = append(s.order, sl)

	return id, nil
}

// Claim leases up to opts.BatchSize claimable entries, oldest first.
// Entries locked by another goroutine are skipped.
func (s *OutboxStore) Claim(ctx context.Context, opts outbox.ClaimOptions) ([]outbox.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	claimID := uuid.New()
	out := make([]outbox.Record, 0, opts.BatchSize)

	for _, sl := range s.snapshot() {
		if len(out) == opts.BatchSize {
			break
		}
		if !sl.mu.TryLock() {
			continue
		}
		if sl.rec.Claimable(now, opts.LeaseDuration, s.cfg.Policy.MaxAttempts) {
			sl.rec.Status = outbox.StatusInProgress
			sl.rec.ClaimID = claimID
			sl.rec.ClaimedAt = now
			sl.rec.AttemptedCount++
			sl.rec.UpdatedAt = now
			out = append(out, cloneRecord(sl.rec))
		}
		sl.mu.Unlock()
	}

	return out, nil
}

// Ack applies an outcome if the claim is still current.
func (s *OutboxStore) Ack(ctx context.Context, ack outbox.Ack) (outbox.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := s.cfg.Clock.Now()
	res, err := s.cfg.Policy.Resolve(ack, now)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	sl, ok := s.byID[ack.ID]
	s.mu.RUnlock()
	if !ok {
		return "", outbox.ErrStaleClaim
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	rec := &sl.rec
	if rec.Status != outbox.StatusInProgress || rec.ClaimID != ack.ClaimID || rec.AttemptedCount != ack.Attempt {
		return "", outbox.ErrStaleClaim
	}

	rec.Status = res.Status
	rec.NextAttemptAt = res.NextAttemptAt
	rec.ProcessedAt = res.ProcessedAt
	rec.LastError = res.LastError
	rec.ClaimID = uuid.Nil
	rec.ClaimedAt = time.Time{}
	rec.UpdatedAt = now

	return res.Status, nil
}

// HasClaimable reports whether any entry is claimable now.
func (s *OutboxStore) HasClaimable(ctx context.Context, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := s.cfg.Clock.Now()
	for _, sl := range s.snapshot() {
		sl.mu.Lock()
		ok := sl.rec.Claimable(now, lease, s.cfg.Policy.MaxAttempts)
		sl.mu.Unlock()
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// PendingCount returns the number of pending entries.
func (s *OutboxStore) PendingCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, sl := range s.snapshot() {
		sl.mu.Lock()
		if sl.rec.Status == outbox.StatusPending {
			count++
		}
		sl.mu.Unlock()
	}

	return count, nil
}

// Get returns a copy of the entry.
func (s *OutboxStore) Get(ctx context.Context, id uuid.UUID) (outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Record{}, err
	}

	s.mu.RLock()
	sl, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return outbox.Record{}, outbox.ErrNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	return cloneRecord(sl.rec), nil
}

// ExpireOverdue marks overdue entries expired, skipping locked ones.
func (s *OutboxStore) ExpireOverdue(ctx context.Context, opts outbox.ExpireOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	for _, sl := range s.snapshot() {
		if opts.Limit > 0 && n == int64(opts.Limit) {
			break
		}
		if !sl.mu.TryLock() {
			continue
		}
		if sl.rec.Expirable(opts.Now, opts.LeaseDuration) {
			sl.rec.Status = outbox.StatusExpired
			sl.rec.ClaimID = uuid.Nil
			sl.rec.ClaimedAt = time.Time{}
			sl.rec.UpdatedAt = opts.Now
			n++
		}
		sl.mu.Unlock()
	}

	return n, nil
}

// FailAbandoned marks failed the entries whose final attempt lost its lease, skipping locked ones.
func (s *OutboxStore) FailAbandoned(ctx context.Context, opts outbox.ExpireOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	for _, sl := range s.snapshot() {
		if opts.Limit > 0 && n == int64(opts.Limit) {
			break
		}
		if !sl.mu.TryLock() {
			continue
		}
		if sl.rec.Abandoned(opts.Now, opts.LeaseDuration, s.cfg.Policy.MaxAttempts) {
			sl.rec.Status = outbox.StatusFailed
			sl.rec.LastError = outbox.AbandonedError
			sl.rec.ClaimID = uuid.Nil
			sl.rec.ClaimedAt = time.Time{}
			sl.rec.UpdatedAt = opts.Now
			n++
		}
		sl.mu.Unlock()
	}

	return n, nil
}

// PruneTerminal deletes terminal entries last updated before opts.Before.
func (s *OutboxStore) PruneTerminal(ctx context.Context, opts outbox.PruneOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	kept := s.order[:0]
	for _, sl := range s.order {
		if opts.Limit > 0 && n == int64(opts.Limit) {
			kept = append(kept, sl)

			continue
		}
		if !sl.mu.TryLock() {
			kept = append(kept, sl)

			continue
		}
		remove := sl.rec.Status.IsTerminal() && sl.rec.UpdatedAt.Before(opts.Before)
		if remove {
			delete(s.byID, sl.rec.ID)
			if sl.rec.BusinessKey != "" {
				delete(s.keys, sl.rec.BusinessKey)
			}
			n++
		}
		sl.mu.Unlock()
		if !remove {
			kept = append(kept, sl)
		}
	}
	clear(s.order[len(kept):])
	s.order = kept

	return n, nil
}

// snapshot returns the slots ordered by created_at, then id.
func (s *OutboxStore) snapshot() []*slot {
	s.mu.RLock()
	out := slices.Clone(s.order)
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *slot) int {
		if c := a.rec.CreatedAt.Compare(b.rec.CreatedAt); c != 0 {
			return c
		}

		return slices.Compare(a.rec.ID[:], b.rec.ID[:])
	})

	return out
}

func cloneRecord(rec outbox.Record) outbox.Record {
	rec.Payload = slices.Clone(rec.Payload)

	return rec
}
