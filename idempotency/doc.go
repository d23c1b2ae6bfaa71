// Package idempotency records the execution status of client-identified write operations
// so that each (actor, key, endpoint) executes its side effects at most once.
//
// A request handler claims the key before doing any work. Only the caller that
// gets OutcomeClaimed executes; everyone else replays the stored result. When the
// work finishes the handler records Complete or Fail, which makes the record
// immutable until it expires.
package idempotency
