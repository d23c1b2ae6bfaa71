package outbox

import (
	"time"
	"unicode/utf8"

	"github.com/velmie/reliable/backoff"
)

const (
	// DefaultMaxAttempts is the retry limit before an entry is marked failed.
	DefaultMaxAttempts = 5
	maxErrorLen        = 1024
)

// Policy holds the retry rules a store applies when acking.
type Policy struct {
	// MaxAttempts bounds retryable outcomes; the attempt that reaches it fails the entry.
	MaxAttempts int
	// Backoff computes the delay after a retryable outcome from the attempt count.
	Backoff backoff.Strategy
	// DefaultTTL sets expires_at on enqueue when the entry has none. Zero disables it.
	DefaultTTL time.Duration
}

// WithDefaults fills unset fields.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = backoff.Exponential{}
	}

	return p
}

// Resolution is the state an acked entry moves to.
type Resolution struct {
	Status        Status
	NextAttemptAt time.Time
	ProcessedAt   time.Time
	LastError     string
}

// Resolve computes the resolution for ack at now.
func (p Policy) Resolve(ack Ack, now time.Time) (Resolution, error) {
	if err := ack.Validate(); err != nil {
		return Resolution{}, err
	}

	switch ack.Outcome.Kind {
	case OutcomeSuccess:
		return Resolution{Status: StatusProcessed, ProcessedAt: now}, nil
	case OutcomeRetryable:
		if ack.Attempt < p.MaxAttempts {
			return Resolution{
				Status:        StatusPending,
				NextAttemptAt: now.Add(p.Backoff.Delay(ack.Attempt)),
				LastError:     TruncateError(ack.Outcome.Err),
			}, nil
		}

		return Resolution{Status: StatusFailed, LastError: TruncateError(ack.Outcome.Err)}, nil
	case OutcomeTerminal:
		return Resolution{Status: StatusFailed, LastError: TruncateError(ack.Outcome.Err)}, nil
	default:
		return Resolution{}, ErrOutcomeInvalid
	}
}

// ExpiresAt returns the expiry for entry enqueued at now.
func (p Policy) ExpiresAt(entry Entry, now time.Time) time.Time {
	if !entry.ExpiresAt.IsZero() {
		return entry.ExpiresAt
	}
	if p.DefaultTTL > 0 {
		return now.Add(p.DefaultTTL)
	}

	return time.Time{}
}

// TruncateError renders err for the last_error column.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
