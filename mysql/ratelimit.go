package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/reliable/ratelimit"
)

// CounterStore implements ratelimit.CounterStore on MySQL.
type CounterStore struct {
	db      *sql.DB
	queries counterQueries
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// NewCounterStore constructs a MySQL counter store.
func NewCounterStore(db *sql.DB, opts ...Option) (*CounterStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &CounterStore{db: db, queries: newCounterQueries(cfg.Tables.Counters)}, nil
}

// Increment upserts the counter in one statement and reads the new value from LAST_INSERT_ID.
func (s *CounterStore) Increment(ctx context.Context, key ratelimit.CounterKey, by int64, expiresAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.queries.increment,
		key.ActorID,
		key.Resource,
		key.WindowStart.UTC(),
		by,
		expiresAt.UTC(),
		by,
	)
	if err != nil {
		return 0, fmt.Errorf("reliable mysql: counter upsert failed: %w", err)
	}

	value, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reliable mysql: counter value failed: %w", err)
	}

	return value, nil
}

// Prune deletes expired counters, skipping rows locked by concurrent increments.
func (s *CounterStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	var affected int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		keys, err := selectKeys(ctx, tx, s.queries.selectPrune, now.UTC(), limit)
		if err != nil {
			return fmt.Errorf("reliable mysql: counter prune select failed: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, s.queries.deleteByKeys(len(keys)/3), keys...)
		if err != nil {
			return fmt.Errorf("reliable mysql: counter prune delete failed: %w", err)
		}
		affected, err = rowsAffected(res)

		return err
	})

	return affected, err
}
