package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/reliable"
)

// AdvisoryLock serializes maintenance across processes with a session-level
// pg_try_advisory_lock keyed by hashtext(name).
type AdvisoryLock struct {
	db     *sql.DB
	name   string
	logger reliable.Logger
}

// NewAdvisoryLock returns a named session lock.
func NewAdvisoryLock(db *sql.DB, name string, logger reliable.Logger) (*AdvisoryLock, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if name == "" {
		return nil, ErrLockNameRequired
	}
	logger = reliable.LoggerOrNop(logger)

	return &AdvisoryLock{db: db, name: name, logger: logger}, nil
}

// TryLock acquires the lock without waiting. When ok is false another session holds it.
func (l *AdvisoryLock) TryLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("reliable postgres: lock conn failed: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", l.name).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, fmt.Errorf("reliable postgres: acquire lock failed: %w", err)
	}
	if !got {
		_ = conn.Close()

		return nil, false, nil
	}

	release = func() {
		var released bool
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtext($1))", l.name).Scan(&released); err != nil {
			l.logger.Warn("reliable postgres: release lock failed", "lock", l.name, "err", err)
		}
		_ = conn.Close()
	}

	return release, true, nil
}
