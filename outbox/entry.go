package outbox

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxBusinessKeyLen bounds Entry.BusinessKey so it fits an indexed VARCHAR(191).
const MaxBusinessKeyLen = 191

// Entry describes a new outbox action to be persisted.
type Entry struct {
	// ID is optional, if zero, the store assigns a UUID v7.
	ID uuid.UUID
	// ActionType names the intent (schedule, cancel, update, delete).
	ActionType ActionType
	// Payload is opaque structured data, stored as JSON.
	Payload json.RawMessage
	// BusinessKey optionally deduplicates logical actions; it is unique across all entries.
	BusinessKey string
	// NotBefore optionally delays the first attempt.
	NotBefore time.Time
	// ExpiresAt optionally bounds how long the entry may wait for a successful ack.
	// If zero, the store applies Policy.DefaultTTL (when positive).
	ExpiresAt time.Time
}

// Validate checks required fields and JSON validity.
func (e Entry) Validate() error {
	return ValidateEntry(e, true)
}

// ValidateEntry validates an entry with optional JSON validation for the payload.
func ValidateEntry(entry Entry, validateJSON bool) error {
	if !entry.ActionType.IsValid() {
		return ErrActionTypeInvalid
	}
	if len(entry.Payload) == 0 {
		return ErrPayloadRequired
	}
	if validateJSON && !json.Valid(entry.Payload) {
		return ErrInvalidPayload
	}
	if utf8.RuneCountInString(entry.BusinessKey) > MaxBusinessKeyLen {
		return ErrBusinessKeyTooLong
	}

	return nil
}

// Record is a stored outbox entry. Zero times stand for NULL columns.
type Record struct {
	ID             uuid.UUID
	ActionType     ActionType
	Payload        json.RawMessage
	BusinessKey    string
	Status         Status
	AttemptedCount int
	NextAttemptAt  time.Time
	ExpiresAt      time.Time
	ClaimID        uuid.UUID
	ClaimedAt      time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    time.Time
}

// Ack builds the acknowledgement for a leased record.
func (r Record) Ack(outcome Outcome) Ack {
	return Ack{
		ID:      r.ID,
		ClaimID: r.ClaimID,
		Attempt: r.AttemptedCount,
		Outcome: outcome,
	}
}

// Claimable reports whether the record matches the claim selection predicate at now.
// Pending records must be due; in_progress records must have an expired lease and
// attempts left below maxAttempts (zero disables the bound).
// Records past expires_at are never claimable.
func (r Record) Claimable(now time.Time, lease time.Duration, maxAttempts int) bool {
	if !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
		return false
	}

	cutoff := now.Add(-lease)
	switch r.Status {
	case StatusPending:
		if !r.NextAttemptAt.IsZero() && r.NextAttemptAt.After(now) {
			return false
		}

		return r.ClaimedAt.IsZero() || r.ClaimedAt.Before(cutoff)
	case StatusInProgress:
		return r.ClaimedAt.Before(cutoff) && !r.exhausted(maxAttempts)
	default:
		return false
	}
}

// Abandoned reports whether the record's final attempt lost its lease without an ack.
// Such records are never reclaimed; the sweep marks them failed.
func (r Record) Abandoned(now time.Time, lease time.Duration, maxAttempts int) bool {
	return r.Status == StatusInProgress && r.ClaimedAt.Before(now.Add(-lease)) && r.exhausted(maxAttempts)
}

func (r Record) exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && r.AttemptedCount >= maxAttempts
}

// Expirable reports whether the overdue sweep may mark the record expired at now.
// Entries under a live lease are left to their worker.
func (r Record) Expirable(now time.Time, lease time.Duration) bool {
	if r.ExpiresAt.IsZero() || r.ExpiresAt.After(now) {
		return false
	}

	switch r.Status {
	case StatusPending:
		return true
	case StatusInProgress:
		return r.ClaimedAt.Before(now.Add(-lease))
	default:
		return false
	}
}

// Ack reports a delivery outcome for a leased entry.
type Ack struct {
	ID      uuid.UUID
	ClaimID uuid.UUID
	// Attempt is the attempted_count observed at claim time; it is part of the fence.
	Attempt int
	Outcome Outcome
}

// Validate checks that the ack carries its fencing data.
func (a Ack) Validate() error {
	if a.ID == uuid.Nil || a.ClaimID == uuid.Nil || a.Attempt < 1 {
		return ErrAckInvalid
	}

	return a.Outcome.validate()
}
