package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/reliable/idempotency"
)

// IdempotencyStore implements idempotency.Store on MySQL.
// The composite primary key (actor_id, idempotency_key, endpoint) arbitrates concurrent claims.
type IdempotencyStore struct {
	db      *sql.DB
	queries idempotencyQueries
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore constructs a MySQL idempotency store.
func NewIdempotencyStore(db *sql.DB, opts ...Option) (*IdempotencyStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &IdempotencyStore{db: db, queries: newIdempotencyQueries(cfg.Tables.Idempotency)}, nil
}

// Insert implements idempotency.Store.
func (s *IdempotencyStore) Insert(ctx context.Context, rec idempotency.Record) error {
	_, err := s.db.ExecContext(
		ctx,
		s.queries.insert,
		rec.ActorID,
		rec.Key.Key,
		rec.Endpoint,
		nullString(rec.ClientTxID),
		nullString(rec.ClaimToken),
		rec.PayloadHash,
		rec.Status.String(),
		rec.ResponsePayload,
		nullInt(rec.ResponseStatus),
		nullString(rec.ErrorDetails),
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
	)
	if err != nil {
		if isDuplicate(err) {
			return idempotency.ErrDuplicate
		}

		return fmt.Errorf("reliable mysql: idempotency insert failed: %w", err)
	}

	return nil
}

// Get implements idempotency.Store.
func (s *IdempotencyStore) Get(ctx context.Context, key idempotency.Key) (idempotency.Record, error) {
	var (
		rec            idempotency.Record
		clientTxID     sql.NullString
		claimToken     sql.NullString
		status         string
		responseStatus sql.NullInt64
		errorDetails   sql.NullString
	)

	err := s.db.QueryRowContext(ctx, s.queries.get, key.ActorID, key.Key, key.Endpoint).Scan(
		&rec.ActorID,
		&rec.Key.Key,
		&rec.Endpoint,
		&clientTxID,
		&claimToken,
		&rec.PayloadHash,
		&status,
		&rec.ResponsePayload,
		&responseStatus,
		&errorDetails,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return idempotency.Record{}, idempotency.ErrRecordNotFound
	}
	if err != nil {
		return idempotency.Record{}, fmt.Errorf("reliable mysql: idempotency get failed: %w", err)
	}

	rec.ClientTxID = clientTxID.String
	rec.ClaimToken = claimToken.String
	rec.Status = idempotency.Status(status)
	rec.ResponseStatus = int(responseStatus.Int64)
	rec.ErrorDetails = errorDetails.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	return rec, nil
}

// DeleteExpired implements idempotency.Store.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key idempotency.Key, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.queries.deleteExpired, key.ActorID, key.Key, key.Endpoint, now.UTC())
	if err != nil {
		return false, fmt.Errorf("reliable mysql: idempotency delete failed: %w", err)
	}

	affected, err := rowsAffected(res)

	return affected > 0, err
}

// Finish implements idempotency.Store.
func (s *IdempotencyStore) Finish(ctx context.Context, key idempotency.Key, result idempotency.Result) error {
	res, err := s.db.ExecContext(
		ctx,
		s.queries.finish,
		result.Status.String(),
		result.ResponsePayload,
		nullInt(result.ResponseStatus),
		nullString(result.ErrorDetails),
		result.ExpiresAt.UTC(),
		key.ActorID,
		key.Key,
		key.Endpoint,
		result.ClaimToken,
	)
	if err != nil {
		return fmt.Errorf("reliable mysql: idempotency finish failed: %w", err)
	}

	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return idempotency.ErrNotProcessing
	}

	return nil
}

// Reclaim implements idempotency.Store.
func (s *IdempotencyStore) Reclaim(ctx context.Context, key idempotency.Key, takeover idempotency.Takeover) error {
	res, err := s.db.ExecContext(
		ctx,
		s.queries.reclaim,
		nullString(takeover.ClientTxID),
		takeover.ClaimToken,
		takeover.ExpiresAt.UTC(),
		key.ActorID,
		key.Key,
		key.Endpoint,
		takeover.PayloadHash,
	)
	if err != nil {
		return fmt.Errorf("reliable mysql: idempotency reclaim failed: %w", err)
	}

	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return idempotency.ErrRecordChanged
	}

	return nil
}

// Prune implements idempotency.Store. Rows locked by live requests are skipped.
func (s *IdempotencyStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	var affected int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		keys, err := selectKeys(ctx, tx, s.queries.selectPrune, now.UTC(), limit)
		if err != nil {
			return fmt.Errorf("reliable mysql: idempotency prune select failed: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, s.queries.deleteByKeys(len(keys)/3), keys...)
		if err != nil {
			return fmt.Errorf("reliable mysql: idempotency prune delete failed: %w", err)
		}
		affected, err = rowsAffected(res)

		return err
	})

	return affected, err
}

// selectKeys returns the three key columns of every row, flattened.
func selectKeys(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]any, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []any
	for rows.Next() {
		var a, b, c any
		if err := rows.Scan(&a, &b, &c); err != nil {
			return nil, err
		}
		keys = append(keys, a, b, c)
	}

	return keys, rows.Err()
}
