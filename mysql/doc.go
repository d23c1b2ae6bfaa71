// Package mysql provides MySQL 8.0+ implementations of the outbox, idempotency and
// rate-limit stores.
//
// The outbox claim uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY created_at, id (approximate FIFO)
//   - LIMIT for batching
//
// Counters are a single INSERT ... ON DUPLICATE KEY UPDATE that returns the new value
// through LAST_INSERT_ID. Prune sweeps select with SKIP LOCKED before deleting, so they
// never wait on rows held by live traffic.
//
// The DSN must set parseTime=true. Times are stored as UTC DATETIME(6).
// See OutboxSchema, IdempotencySchema and CounterSchema for the expected tables.
package mysql
