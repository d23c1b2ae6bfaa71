package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxKeyPartLen bounds each part of Key so the composite primary key stays indexable.
const MaxKeyPartLen = 191

// Status is the execution state of an idempotent operation.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates and converts a raw status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Key scopes at-most-once execution.
type Key struct {
	ActorID  string
	Key      string
	Endpoint string
}

// Validate checks that every part is present and bounded.
func (k Key) Validate() error {
	if k.ActorID == "" || k.Key == "" || k.Endpoint == "" {
		return ErrKeyRequired
	}
	for _, part := range []string{k.ActorID, k.Key, k.Endpoint} {
		if utf8.RuneCountInString(part) > MaxKeyPartLen {
			return ErrKeyTooLong
		}
	}

	return nil
}

func (k Key) String() string {
	return k.ActorID + "/" + k.Endpoint + "/" + k.Key
}

// Record is a stored idempotency entry. A zero ResponseStatus means none was recorded.
// ClaimToken identifies the claim currently allowed to finish the record.
type Record struct {
	Key
	ClientTxID      string
	ClaimToken      string
	PayloadHash     string
	Status          Status
	ResponsePayload []byte
	ResponseStatus  int
	ErrorDetails    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the record no longer counts at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Result is the terminal state written by Store.Finish.
// ClaimToken must match the token of the processing record.
type Result struct {
	ClaimToken      string
	Status          Status
	ResponsePayload []byte
	ResponseStatus  int
	ErrorDetails    string
	ExpiresAt       time.Time
}

// Takeover moves a failed record back to processing for a new attempt.
type Takeover struct {
	ClientTxID  string
	ClaimToken  string
	PayloadHash string
	ExpiresAt   time.Time
}

// HashPayload returns a hex SHA-256 digest over parts.
// Each part is length-prefixed so that ("ab","c") and ("a","bc") differ.
func HashPayload(parts ...[]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write(part)
	}

	return hex.EncodeToString(h.Sum(nil))
}
