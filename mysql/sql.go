package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

const (
	errDuplicateEntry = 1062
	placeholderGrowth = 2
)

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

func makeTuples(count, width int) string {
	tuple := "(" + makePlaceholders(width) + ")"
	tuples := make([]string, count)
	for i := range tuples {
		tuples[i] = tuple
	}

	return strings.Join(tuples, ",")
}

func isDuplicate(err error) bool {
	var myErr *driver.MySQLError

	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("reliable mysql: begin tx failed: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("reliable mysql: rollback failed: %w", rollbackErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reliable mysql: commit failed: %w", err)
	}

	return nil
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
		return 0, fmt.Errorf("reliable mysql: rows affected failed: %w", err)
	}

	return n, nil
}
