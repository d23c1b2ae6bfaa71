package ratelimit

import "errors"

var (
	// ErrActorRequired is returned when the request has no actor id.
	ErrActorRequired = errors.New("ratelimit actor id is required")
	// ErrResourceRequired is returned when the request has no resource.
	ErrResourceRequired = errors.New("ratelimit resource is required")
	// ErrInvalidLimit is returned when the limit is not positive.
	ErrInvalidLimit = errors.New("ratelimit limit must be positive")
	// ErrInvalidWindow is returned when the window is shorter than a millisecond.
	ErrInvalidWindow = errors.New("ratelimit window must be at least one millisecond")
	// ErrInvalidIncrement is returned for a negative increment.
	ErrInvalidIncrement = errors.New("ratelimit increment must not be negative")
)
