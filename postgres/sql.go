package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}

	return n
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}

	return t.Time.UTC()
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reliable postgres: rows affected failed: %w", err)
	}

	return n, nil
}
