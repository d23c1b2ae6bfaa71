package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/reliable/idempotency"
)

// IdempotencyStore implements idempotency.Store on PostgreSQL.
type IdempotencyStore struct {
	db      *sql.DB
	queries idempotencyQueries
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore constructs a PostgreSQL idempotency store.
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

func (s *IdempotencyStore) Insert(ctx context.Context, rec idempotency.Record) error {
	res, err := s.db.ExecContext(
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

		return fmt.Errorf("reliable postgres: idempotency insert failed: %w", err)
	}

	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return idempotency.ErrDuplicate
	}

	return nil
}

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
		return idempotency.Record{}, fmt.Errorf("reliable postgres: idempotency get failed: %w", err)
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

func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key idempotency.Key, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.queries.deleteExpired, key.ActorID, key.Key, key.Endpoint, now.UTC())
	if err != nil {
		return false, fmt.Errorf("reliable postgres: idempotency delete failed: %w", err)
	}

	affected, err := rowsAffected(res)

	return affected > 0, err
}

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
		return fmt.Errorf("reliable postgres: idempotency finish failed: %w", err)
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
		return fmt.Errorf("reliable postgres: idempotency reclaim failed: %w", err)
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

func (s *IdempotencyStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.queries.prune, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: idempotency prune failed: %w", err)
	}

	return rowsAffected(res)
}
