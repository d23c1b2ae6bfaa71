package reliable

import (
	"context"
	"database/sql"
)

// Executor allows writing within an existing transaction.
// *sql.Tx, *sql.Conn and *sql.DB all satisfy it.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
