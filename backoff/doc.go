// Package backoff provides the two delay strategies used by this module.
//
// Exponential drives outbox delivery retries. Lockout drives authentication
// lockouts. They are deliberately separate types with separate defaults so that
// tuning one never changes the other.
package backoff
