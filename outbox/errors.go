package outbox

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrInvalidLeaseDuration indicates that the requested lease duration is not positive.
	ErrInvalidLeaseDuration = errors.New("outbox lease duration must be positive")
	// ErrConflict is returned by Enqueue when the business key already exists.
	// Callers should treat it as "already scheduled".
	ErrConflict = errors.New("outbox business key already exists")
	// ErrStaleClaim is returned by Ack when the claim id no longer matches the entry.
	// The ack must be dropped; another worker owns the entry now.
	ErrStaleClaim = errors.New("outbox claim is stale")
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("outbox entry not found")
	// ErrActionTypeInvalid is returned when Entry.ActionType is not one of the known actions.
	ErrActionTypeInvalid = errors.New("outbox action type is invalid")
	// ErrPayloadRequired is returned when Entry.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Entry.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrBusinessKeyTooLong is returned when Entry.BusinessKey exceeds MaxBusinessKeyLen.
	ErrBusinessKeyTooLong = errors.New("outbox business key is too long")
	// ErrAckInvalid is returned when an ack lacks its entry id, claim id or attempt.
	ErrAckInvalid = errors.New("outbox ack is invalid")
	// ErrOutcomeInvalid is returned for an unknown outcome kind.
	ErrOutcomeInvalid = errors.New("outbox outcome is invalid")
	// ErrStatusInvalid is returned when parsing an unknown status.
	ErrStatusInvalid = errors.New("outbox status is invalid")
	// ErrHandlerRequired is returned when registering a nil handler.
	ErrHandlerRequired = errors.New("outbox handler is required")
	// ErrHandlerAlreadyRegistered is returned when an action type already has a handler.
	ErrHandlerAlreadyRegistered = errors.New("outbox handler already registered")
	// ErrHandlerNotRegistered is returned when no handler serves an action type.
	ErrHandlerNotRegistered = errors.New("outbox handler is not registered")
	// ErrWorkerPanic indicates a dispatcher worker panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
)
