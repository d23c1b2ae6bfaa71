// Package reliable holds the primitives shared by the delivery and execution guarantees of this module.
//
// Typical flow:
//  1. Within a business transaction, enqueue an outbox entry with a storage-specific store (see outbox, mysql, postgres).
//  2. Run an outbox.Dispatcher to claim leased batches, deliver them, and ack each entry with its outcome.
//  3. Wrap client-initiated writes with an idempotency.Ledger so their side effects happen at most once.
//  4. Admit requests through a ratelimit.Limiter backed by fixed-window counters.
//  5. Run a prune.Pruner to keep all three stores bounded.
//
// The root package only defines the Clock, Logger and Executor contracts every component accepts.
package reliable
