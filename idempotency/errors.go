package idempotency

import "errors"

var (
	// ErrKeyRequired is returned when actor id, key or endpoint is empty.
	ErrKeyRequired = errors.New("idempotency key, actor and endpoint are required")
	// ErrKeyTooLong is returned when a key part exceeds MaxKeyPartLen.
	ErrKeyTooLong = errors.New("idempotency key part is too long")
	// ErrPayloadHashRequired is returned when a claim carries no payload hash.
	ErrPayloadHashRequired = errors.New("idempotency payload hash is required")
	// ErrDuplicate is returned by Store.Insert when the key already exists.
	ErrDuplicate = errors.New("idempotency record already exists")
	// ErrRecordNotFound is returned by Store.Get when no record exists.
	ErrRecordNotFound = errors.New("idempotency record not found")
	// ErrClaimTokenRequired is returned by Complete and Fail without a claim token.
	ErrClaimTokenRequired = errors.New("idempotency claim token is required")
	// ErrNotProcessing is returned by Store.Finish when the record is missing, finished or claimed by another request.
	ErrNotProcessing = errors.New("idempotency record is not processing")
	// ErrRecordChanged is returned by Store.Reclaim when the failed record changed concurrently.
	ErrRecordChanged = errors.New("idempotency record changed concurrently")
	// ErrClaimContention is returned when a claim keeps losing races on the same key.
	ErrClaimContention = errors.New("idempotency claim contention")
	// ErrPayloadMismatch signals a key reused with a different payload.
	ErrPayloadMismatch = errors.New("idempotency key reused with a different payload")
	// ErrInProgress is returned by Execute while another request holds the key.
	ErrInProgress = errors.New("idempotency request is still processing")
	// ErrPreviouslyFailed is returned by Execute when the key recorded a failure.
	ErrPreviouslyFailed = errors.New("idempotency request previously failed")
	// ErrInvalidStatus is returned when parsing an unknown status.
	ErrInvalidStatus = errors.New("idempotency status is invalid")
)
