// Package postgres provides PostgreSQL implementations of the outbox, idempotency and
// rate-limit stores on top of database/sql with the pgx driver.
//
// Open the pool with sql.Open("pgx", dsn). Claims are a single UPDATE over a
// FOR UPDATE SKIP LOCKED subquery, so no explicit transaction is needed. Enqueue and
// idempotency inserts use ON CONFLICT DO NOTHING, which keeps a caller's transaction
// usable after a duplicate.
package postgres
