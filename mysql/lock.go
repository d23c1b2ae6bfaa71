package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/reliable"
)

// AdvisoryLock serializes maintenance across processes with GET_LOCK.
// The lock is bound to a dedicated connection held until release.
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
		return nil, false, fmt.Errorf("reliable mysql: lock conn failed: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", l.name).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, fmt.Errorf("reliable mysql: acquire lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		_ = conn.Close()

		return nil, false, nil
	}

	release = func() {
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", l.name).Scan(&released); err != nil {
			l.logger.Warn("reliable mysql: release lock failed", "lock", l.name, "err", err)
		}
		_ = conn.Close()
	}

	return release, true, nil
}
