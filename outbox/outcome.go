package outbox

import (
	"context"
	"errors"
)

// OutcomeKind classifies the result of a delivery attempt.
type OutcomeKind int

const (
	// OutcomeSuccess marks the entry processed.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable schedules another attempt while attempts remain.
	OutcomeRetryable
	// OutcomeTerminal marks the entry failed regardless of remaining attempts.
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is what a worker reports for one leased entry.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Success reports a successful delivery.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Retryable reports a transient delivery failure.
func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

// Terminal reports a delivery failure that must not be retried.
func Terminal(err error) Outcome {
	return Outcome{Kind: OutcomeTerminal, Err: err}
}

func (o Outcome) validate() error {
	switch o.Kind {
	case OutcomeSuccess, OutcomeRetryable, OutcomeTerminal:
		return nil
	default:
		return ErrOutcomeInvalid
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as non-retryable for the default classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target *permanentError

	return errors.As(err, &target)
}

// Classifier decides the outcome for a handler error.
type Classifier func(ctx context.Context, record Record, err error) Outcome

// DefaultClassifier treats nil as success, Permanent errors as terminal and everything else as retryable.
func DefaultClassifier(_ context.Context, _ Record, err error) Outcome {
	switch {
	case err == nil:
		return Success()
	case IsPermanent(err):
		return Terminal(err)
	default:
		return Retryable(err)
	}
}
