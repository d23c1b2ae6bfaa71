package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/outbox"
)

// OutboxStore implements a MySQL-backed outbox using SKIP LOCKED leasing.
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

// NewOutboxStore constructs a MySQL outbox store with validated configuration.
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

// MustNewOutboxStore constructs a MySQL outbox store or panics on error.
func MustNewOutboxStore(db *sql.DB, opts ...Option) *OutboxStore {
	store, err := NewOutboxStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue inserts an outbox entry using the provided executor (transaction preferred).
// A duplicate business key yields outbox.ErrConflict.
func (s *OutboxStore) Enqueue(ctx context.Context, exec reliable.Executor, entry outbox.Entry) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}
	if err := outbox.ValidateEntry(entry, s.cfg.ValidateJSON); err != nil {
		return uuid.Nil, err
	}

	id := entry.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return uuid.Nil, fmt.Errorf("reliable mysql: generate id failed: %w", err)
		}
	}

	now := s.cfg.Clock.Now()
	_, err := exec.ExecContext(
		ctx,
		s.queries.insert,
		id.String(),
		entry.ActionType.String(),
		[]byte(entry.Payload),
		nullString(entry.BusinessKey),
		nullTime(entry.NotBefore),
		nullTime(s.cfg.Policy.ExpiresAt(entry, now)),
		now,
		now,
	)
	if err != nil {
		if isDuplicate(err) {
			return uuid.Nil, outbox.ErrConflict
		}

		return uuid.Nil, fmt.Errorf("reliable mysql: outbox insert failed: %w", err)
	}

	return id, nil
}

// Claim leases up to opts.BatchSize claimable entries using READ COMMITTED + SKIP LOCKED.
func (s *OutboxStore) Claim(ctx context.Context, opts outbox.ClaimOptions) ([]outbox.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	cutoff := now.Add(-opts.LeaseDuration)
	claimID := uuid.New()

	var records []outbox.Record
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		ids, err := selectIDs(ctx, tx, s.queries.selectClaim, now, cutoff, cutoff, s.cfg.Policy.MaxAttempts, now, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("reliable mysql: claim select failed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		args := make([]any, 0, len(ids)+3)
		args = append(args, claimID.String(), now, now)
		args = append(args, ids...)
		if _, err := tx.ExecContext(ctx, s.queries.claimUpdate(len(ids)), args...); err != nil {
			return fmt.Errorf("reliable mysql: claim update failed: %w", err)
		}

		rows, err := tx.QueryContext(ctx, s.queries.selectByIDs(len(ids)), ids...)
		if err != nil {
			return fmt.Errorf("reliable mysql: claim reload failed: %w", err)
		}
		records, err = scanRecords(rows, len(ids))

		return err
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []outbox.Record{}
	}

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
		return "", fmt.Errorf("reliable mysql: ack update failed: %w", err)
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
	cutoff := now.Add(-lease)

	var one int
	err := s.db.QueryRowContext(ctx, s.queries.hasClaimable, now, cutoff, cutoff, s.cfg.Policy.MaxAttempts, now).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reliable mysql: claimable check failed: %w", err)
	}

	return true, nil
}

// PendingCount returns the number of pending outbox rows.
func (s *OutboxStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("reliable mysql: pending count failed: %w", err)
	}

	return count, nil
}

// Get returns a single entry.
func (s *OutboxStore) Get(ctx context.Context, id uuid.UUID) (outbox.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.get, id.String())
	if err != nil {
		return outbox.Record{}, fmt.Errorf("reliable mysql: outbox get failed: %w", err)
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

	var affected int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		ids, err := selectIDs(ctx, tx, s.queries.selectOverdue, opts.Now, opts.Now.Add(-opts.LeaseDuration), opts.Limit)
		if err != nil {
			return fmt.Errorf("reliable mysql: expire select failed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		args := append([]any{opts.Now}, ids...)
		res, err := tx.ExecContext(ctx, s.queries.expireUpdate(len(ids)), args...)
		if err != nil {
			return fmt.Errorf("reliable mysql: expire update failed: %w", err)
		}
		affected, err = rowsAffected(res)

		return err
	})

	return affected, err
}

// FailAbandoned marks failed the entries whose final attempt lost its lease.
func (s *OutboxStore) FailAbandoned(ctx context.Context, opts outbox.ExpireOptions) (int64, error) {
	if opts.Limit <= 0 {
		return 0, nil
	}

	var affected int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		cutoff := opts.Now.Add(-opts.LeaseDuration)
		ids, err := selectIDs(ctx, tx, s.queries.selectAbandoned, cutoff, s.cfg.Policy.MaxAttempts, opts.Limit)
		if err != nil {
			return fmt.Errorf("reliable mysql: abandoned select failed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		args := append([]any{outbox.AbandonedError, opts.Now}, ids...)
		res, err := tx.ExecContext(ctx, s.queries.abandonUpdate(len(ids)), args...)
		if err != nil {
			return fmt.Errorf("reliable mysql: abandoned update failed: %w", err)
		}
		affected, err = rowsAffected(res)

		return err
	})

	return affected, err
}

// PruneTerminal deletes terminal entries last updated before opts.Before.
func (s *OutboxStore) PruneTerminal(ctx context.Context, opts outbox.PruneOptions) (int64, error) {
	if opts.Limit <= 0 {
		return 0, nil
	}

	var affected int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		ids, err := selectIDs(ctx, tx, s.queries.selectPrune, opts.Before, opts.Limit)
		if err != nil {
			return fmt.Errorf("reliable mysql: prune select failed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, s.queries.deleteByIDs(len(ids)), ids...)
		if err != nil {
			return fmt.Errorf("reliable mysql: prune delete failed: %w", err)
		}
		affected, err = rowsAffected(res)

		return err
	})

	return affected, err
}

func selectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]any, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanRecords(rows *sql.Rows, capacity int) ([]outbox.Record, error) {
	defer rows.Close()

	records := make([]outbox.Record, 0, capacity)
	for rows.Next() {
		var (
			rec           outbox.Record
			actionType    string
			status        string
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
			&rec.Payload,
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
			return nil, fmt.Errorf("reliable mysql: scan failed: %w", err)
		}

		rec.ActionType = outbox.ActionType(actionType)
		rec.Status = outbox.Status(status)
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
		return nil, fmt.Errorf("reliable mysql: rows failed: %w", err)
	}

	return records, nil
}
