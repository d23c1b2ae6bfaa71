package postgres

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("reliable postgres: db is required")
	// ErrExecutorRequired is returned when enqueue is called with a nil executor.
	ErrExecutorRequired = errors.New("reliable postgres: executor is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("reliable postgres: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("reliable postgres: invalid table name")
	// ErrLockNameRequired is returned when an advisory lock has no name.
	ErrLockNameRequired = errors.New("reliable postgres: lock name is required")
)
