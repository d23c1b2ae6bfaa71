package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/reliable/ratelimit"
)

// CounterStore implements ratelimit.CounterStore on PostgreSQL.
type CounterStore struct {
	db      *sql.DB
	queries counterQueries
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// NewCounterStore constructs a PostgreSQL counter store.
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

// Increment upserts the counter and returns the value after the increment.
func (s *CounterStore) Increment(ctx context.Context, key ratelimit.CounterKey, by int64, expiresAt time.Time) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(
		ctx,
		s.queries.increment,
		key.ActorID,
		key.Resource,
		key.WindowStart.UTC(),
		by,
		expiresAt.UTC(),
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: counter upsert failed: %w", err)
	}

	return value, nil
}

// Prune deletes expired counters, skipping rows locked by concurrent increments.
func (s *CounterStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.queries.prune, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: counter prune failed: %w", err)
	}

	return rowsAffected(res)
}
