package backoff

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	maxShift = 62

	// DefaultDeliveryBase is the first retry delay for outbox delivery.
	DefaultDeliveryBase = time.Second
	// DefaultDeliveryMax caps outbox delivery retry delays.
	DefaultDeliveryMax = time.Hour
	// DefaultLockoutBase is the first lockout interval once the threshold is reached.
	DefaultLockoutBase = time.Minute
	// DefaultLockoutMax caps lockout intervals.
	DefaultLockoutMax = 24 * time.Hour
)

// Strategy maps an attempt number to a delay.
type Strategy interface {
	// Delay returns the wait before the next attempt.
	Delay(attempt int) time.Duration
}

// Exponential is the delivery retry strategy: Base * 2^(attempt-1), capped at Max.
// With Jitter enabled the returned delay is drawn uniformly from [delay/2, delay].
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// Delay implements Strategy. Attempts below 1 are treated as 1.
func (e Exponential) Delay(attempt int) time.Duration {
	base := e.Base
	if base <= 0 {
		base = DefaultDeliveryBase
	}
	ceiling := e.Max
	if ceiling <= 0 {
		ceiling = DefaultDeliveryMax
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := min(doubled(base, attempt-1), ceiling)
	if !e.Jitter {
		return delay
	}

	half := delay / 2

	return half + randomBelow(delay-half+1)
}

// Lockout is the authentication lockout strategy. Failures below Threshold are free;
// from then on the lockout doubles from Base and is capped at Max (24h by default).
type Lockout struct {
	Base      time.Duration
	Max       time.Duration
	Threshold int
}

// Delay implements Strategy for a number of consecutive failures.
func (l Lockout) Delay(failures int) time.Duration {
	threshold := l.Threshold
	if threshold < 1 {
		threshold = 1
	}
	if failures < threshold {
		return 0
	}
	base := l.Base
	if base <= 0 {
		base = DefaultLockoutBase
	}
	ceiling := l.Max
	if ceiling <= 0 {
		ceiling = DefaultLockoutMax
	}

	return min(doubled(base, failures-threshold), ceiling)
}

// doubled returns base * 2^shift with overflow protection.
func doubled(base time.Duration, shift int) time.Duration {
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

func randomBelow(limit time.Duration) time.Duration {
	if limit <= 1 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}

	return time.Duration(n.Int64())
}
