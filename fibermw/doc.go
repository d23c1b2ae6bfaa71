// Package fibermw exposes the rate limiter and the idempotency ledger as fiber middleware.
package fibermw
