package ratelimit

import (
	"time"

	"github.com/velmie/reliable/backoff"
)

// LockoutPolicy throttles repeated authentication failures.
// It is tuned independently from outbox delivery backoff.
type LockoutPolicy struct {
	Backoff backoff.Lockout
}

// LockedFor returns the lockout length after failures consecutive failures.
func (p LockoutPolicy) LockedFor(failures int) time.Duration {
	return p.Backoff.Delay(failures)
}

// RetryAt returns when the next attempt is allowed after the last failure.
func (p LockoutPolicy) RetryAt(lastFailure time.Time, failures int) time.Time {
	return lastFailure.Add(p.LockedFor(failures))
}

// Locked reports whether an attempt at now is still locked out.
func (p LockoutPolicy) Locked(now, lastFailure time.Time, failures int) bool {
	return now.Before(p.RetryAt(lastFailure, failures))
}
