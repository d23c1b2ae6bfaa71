// Package memory provides in-process implementations of the outbox, idempotency and
// rate-limit stores.
//
// Each outbox entry sits behind its own mutex. Claim and the sweeps use TryLock and
// skip entries another goroutine is touching, which mirrors SKIP LOCKED in the SQL
// backends. State changes are compare-and-swap on (status, claim_id, attempted_count)
// under that mutex.
package memory
