// Package prune periodically trims the outbox, idempotency and rate-limit stores.
//
// Every sweep is capped per run and relies on the store's non-blocking selection,
// so pruning never waits on rows held by live traffic.
package prune
