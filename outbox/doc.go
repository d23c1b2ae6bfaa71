// Package outbox provides the durable action log and the lease-based claim protocol layered on it.
//
// Typical flow:
//  1. Within a business transaction, enqueue an Entry using a storage-specific store (mysql, postgres or memory).
//  2. Run a Dispatcher with a storage-specific Claimer: it checks for claimable work, claims a leased batch,
//     invokes a Handler per entry and acks each entry with its Outcome.
//  3. Success marks the entry processed; retryable failures go back to pending with exponential backoff until
//     Policy.MaxAttempts is reached; terminal failures mark the entry failed at once.
//
// A lease that expires without an ack makes the entry claimable again. Acks are fenced by the claim id so a
// worker holding an expired lease can never overwrite the outcome recorded by the worker that re-claimed it.
// An entry whose final attempt loses its lease is not claimed again; Sweeper.FailAbandoned marks it failed.
package outbox
