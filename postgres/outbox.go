package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/outbox"
)

// OutboxStore implements the outbox on PostgreSQL.
type OutboxStore struct {
	db      *sql.DB
	cfg     Config
	queries outboxQueries
}

var (
	_ outbox.Claimer        = (*OutboxStore)(nil)
	_ outbox.PendingCounter = (*OutboxStore)(nil)
	_ outbox.Sweeper        = (*OutboxStore)(nil)
)

// NewOutboxStore constructs a PostgreSQL outbox store with validated configuration.
func NewOutboxStore(db *sql.DB, opts ...Option) (*OutboxStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &OutboxStore{
		db:      db,
		cfg:     cfg,
		queries: newOutboxQueries(cfg.Tables.Outbox),
	}, nil
}

// Enqueue inserts an entry through exec, normally the caller's transaction.
// A duplicate business key yields outbox.ErrConflict and leaves the transaction usable.
func (s *OutboxStore) Enqueue(ctx context.Context, exec reliable.Executor, entry outbox.Entry) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}
	if err := outbox.ValidateEntry(entry, true); err != nil {
		return uuid.Nil, err
	}

	id := entry.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return uuid.Nil, fmt.Errorf("reliable postgres: generate id failed: %w", err)
		}
	}

	now := s.cfg.Clock.Now()
	res, err := exec.ExecContext(
		ctx,
		s.queries.insert,
		id.String(),
		entry.ActionType.String(),
		string(entry.Payload),
		nullString(entry.BusinessKey),
		nullTime(entry.NotBefore),
		nullTime(s.cfg.Policy.ExpiresAt(entry, now)),
		now,
	)
	if err != nil {
		if isDuplicate(err) {
			return uuid.Nil, outbox.ErrConflict
		}

		return uuid.Nil, fmt.Errorf("reliable postgres: outbox insert failed: %w", err)
	}

	affected, err := rowsAffected(res)
	if err != nil {
		return uuid.Nil, err
	}
	if affected == 0 {
		return uuid.Nil, outbox.ErrConflict
	}

	return id, nil
}

// Claim leases up to opts.BatchSize claimable entries in one statement.
func (s *OutboxStore) Claim(ctx context.Context, opts outbox.ClaimOptions) ([]outbox.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	rows, err := s.db.QueryContext(
		ctx,
		s.queries.claim,
		now,
		now.Add(-opts.LeaseDuration),
		s.cfg.Policy.MaxAttempts,
		opts.BatchSize,
		uuid.New().String(),
	)
	if err != nil {
		return nil, fmt.Errorf("reliable postgres: claim failed: %w", err)
	}

	records, err := scanRecords(rows, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	slices.SortFunc(records, func(a, b outbox.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return records, nil
}

// Ack applies an outcome if (claim_id, attempted_count) still match.
func (s *OutboxStore) Ack(ctx context.Context, ack outbox.Ack) (outbox.Status, error) {
	now := s.cfg.Clock.Now()
	res, err := s.cfg.Policy.Resolve(ack, now)
	if err != nil {
		return "", err
	}

	result, err := s.db.ExecContext(
		ctx,
		s.queries.ack,
		res.Status.String(),
		nullTime(res.NextAttemptAt),
		nullTime(res.ProcessedAt),
		nullString(res.LastError),
		now,
		ack.ID.String(),
		ack.ClaimID.String(),
		ack.Attempt,
	)
	if err != nil {
		return "", fmt.Errorf("reliable postgres: ack update failed: %w", err)
	}

	affected, err := rowsAffected(result)
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", outbox.ErrStaleClaim
	}

	return res.Status, nil
}

// HasClaimable reports whether any entry is claimable with the given lease.
func (s *OutboxStore) HasClaimable(ctx context.Context, lease time.Duration) (bool, error) {
	now := s.cfg.Clock.Now()

	var exists bool
	if err := s.db.QueryRowContext(ctx, s.queries.hasClaimable, now, now.Add(-lease), s.cfg.Policy.MaxAttempts).Scan(&exists); err != nil {
		return false, fmt.Errorf("reliable postgres: claimable check failed: %w", err)
	}

	return exists, nil
}

// PendingCount returns the number of pending outbox rows.
func (s *OutboxStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("reliable postgres: pending count failed: %w", err)
	}

	return count, nil
}

// Get returns a single entry.
func (s *OutboxStore) Get(ctx context.Context, id uuid.UUID) (outbox.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.get, id.String())
	if err != nil {
		return outbox.Record{}, fmt.Errorf("reliable postgres: outbox get failed: %w", err)
	}

	records, err := scanRecords(rows, 1)
	if err != nil {
		return outbox.Record{}, err
	}
	if len(records) == 0 {
		return outbox.Record{}, outbox.ErrNotFound
	}

	return records[0], nil
}

// ExpireOverdue marks entries past expires_at as expired. Rows locked by workers are skipped.
func (s *OutboxStore) ExpireOverdue(ctx context.Context, opts outbox.ExpireOptions) (int64, error) {
	if opts.Limit <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.queries.expire, opts.Now.UTC(), opts.Now.Add(-opts.LeaseDuration).UTC(), opts.Limit)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: expire failed: %w", err)
	}

	return rowsAffected(res)
}

// FailAbandoned marks failed the entries whose final attempt lost its lease.
func (s *OutboxStore) FailAbandoned(ctx context.Context, opts outbox.ExpireOptions) (int64, error) {
	if opts.Limit <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(
		ctx,
		s.queries.abandon,
		outbox.AbandonedError,
		opts.Now.UTC(),
		opts.Now.Add(-opts.LeaseDuration).UTC(),
		s.cfg.Policy.MaxAttempts,
		opts.Limit,
	)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: abandoned update failed: %w", err)
	}

	return rowsAffected(res)
}

// PruneTerminal deletes terminal entries last updated before opts.Before.
func (s *OutboxStore) PruneTerminal(ctx context.Context, opts outbox.PruneOptions) (int64, error) {
	if opts.Limit <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.queries.prune, opts.Before.UTC(), opts.Limit)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: prune failed: %w", err)
	}

	return rowsAffected(res)
}

func scanRecords(rows *sql.Rows, capacity int) ([]outbox.Record, error) {
	defer rows.Close()

	records := make([]outbox.Record, 0, capacity)
	for rows.Next() {
		var (
			rec           outbox.Record
			actionType    string
			status        string
			payload       []byte
			businessKey   sql.NullString
			lastError     sql.NullString
			claimID       uuid.NullUUID
			nextAttemptAt sql.NullTime
			expiresAt     sql.NullTime
			claimedAt     sql.NullTime
			processedAt   sql.NullTime
		)

		if err := rows.Scan(
			&rec.ID,
			&actionType,
			&payload,
			&businessKey,
			&status,
			&rec.AttemptedCount,
			&nextAttemptAt,
			&expiresAt,
			&claimID,
			&claimedAt,
			&lastError,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&processedAt,
		); err != nil {
			return nil, fmt.Errorf("reliable postgres: scan failed: %w", err)
		}

		rec.ActionType = outbox.ActionType(actionType)
		rec.Status = outbox.Status(status)
		rec.Payload = payload
		rec.BusinessKey = businessKey.String
		rec.LastError = lastError.String
		rec.ClaimID = claimID.UUID
		rec.NextAttemptAt = timeOf(nextAttemptAt)
		rec.ExpiresAt = timeOf(expiresAt)
		rec.ClaimedAt = timeOf(claimedAt)
		rec.ProcessedAt = timeOf(processedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reliable postgres: rows failed: %w", err)
	}

	return records, nil
}
