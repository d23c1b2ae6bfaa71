package prune

import "errors"

var (
	// ErrNoTargets is returned when a Pruner is built without any store.
	ErrNoTargets = errors.New("prune: no stores configured")
	// ErrInvalidLimit is returned for a negative per-store limit.
	ErrInvalidLimit = errors.New("prune: limit must not be negative")
	// ErrInvalidRetention is returned for a negative outbox retention.
	ErrInvalidRetention = errors.New("prune: retention must not be negative")
)
