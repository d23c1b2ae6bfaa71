package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Outcome is the result kind of Ledger.Claim.
type Outcome int

const (
	// OutcomeClaimed means the caller owns the key and must execute.
	OutcomeClaimed Outcome = iota + 1
	// OutcomeAlreadyExists means a record with the same payload exists; replay it.
	OutcomeAlreadyExists
	// OutcomePayloadMismatch means the key was reused with a different payload.
	OutcomePayloadMismatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClaimed:
		return "claimed"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomePayloadMismatch:
		return "payload_mismatch"
	default:
		return "unknown"
	}
}

// ClaimRequest identifies an operation attempt.
type ClaimRequest struct {
	Key
	ClientTxID  string
	PayloadHash string
}

// ClaimResult carries the claim outcome and the record it observed.
// On OutcomeClaimed, Record.ClaimToken must be passed to Complete or Fail.
type ClaimResult struct {
	Outcome Outcome
	Record  Record
}

// Response is the stored result of a completed operation.
type Response struct {
	StatusCode int
	Payload    []byte
	// Replayed is set when the response came from the ledger rather than a fresh execution.
	Replayed bool
}

// Ledger implements claim, complete and fail over a Store.
type Ledger struct {
	store Store
	cfg   Config
}

// NewLedger constructs a Ledger with defaults and optional settings.
func NewLedger(store Store, opts ...Option) *Ledger {
	if store == nil {
		panic("idempotency: nil Store")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Ledger{store: store, cfg: cfg.withDefaults()}
}

// Claim atomically inserts a processing record or reports the existing one.
// Expired records are treated as nonexistent and replaced.
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if err := req.Key.Validate(); err != nil {
		return ClaimResult{}, err
	}
	if req.PayloadHash == "" {
		return ClaimResult{}, ErrPayloadHashRequired
	}

	for attempt := 0; attempt < l.cfg.ClaimAttempts; attempt++ {
		now := l.cfg.Clock.Now()
		record := Record{
			Key:         req.Key,
			ClientTxID:  req.ClientTxID,
			ClaimToken:  uuid.NewString(),
			PayloadHash: req.PayloadHash,
			Status:      StatusProcessing,
			CreatedAt:   now,
			ExpiresAt:   now.Add(l.cfg.ProcessingTTL),
		}

		err := l.store.Insert(ctx, record)
		if err == nil {
			return ClaimResult{Outcome: OutcomeClaimed, Record: record}, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return ClaimResult{}, fmt.Errorf("idempotency insert failed: %w", err)
		}

		existing, err := l.store.Get(ctx, req.Key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("idempotency lookup failed: %w", err)
		}

		if existing.Expired(now) {
			if _, err := l.store.DeleteExpired(ctx, req.Key, now); err != nil {
				return ClaimResult{}, fmt.Errorf("idempotency expired delete failed: %w", err)
			}
			l.cfg.Logger.Debug("idempotency expired record replaced", "key", req.Key.String())

			continue
		}

		if existing.PayloadHash != req.PayloadHash {
			existing.ClaimToken = ""

			return ClaimResult{Outcome: OutcomePayloadMismatch, Record: existing}, nil
		}

		if existing.Status == StatusFailed && l.cfg.RetryFailed {
			takeover := Takeover{
				ClientTxID:  req.ClientTxID,
				ClaimToken:  uuid.NewString(),
				PayloadHash: req.PayloadHash,
				ExpiresAt:   now.Add(l.cfg.ProcessingTTL),
			}
			err := l.store.Reclaim(ctx, req.Key, takeover)
			if errors.Is(err, ErrRecordChanged) {
				continue
			}
			if err != nil {
				return ClaimResult{}, fmt.Errorf("idempotency reclaim failed: %w", err)
			}

			existing.ClientTxID = takeover.ClientTxID
			existing.ClaimToken = takeover.ClaimToken
			existing.Status = StatusProcessing
			existing.ErrorDetails = ""
			existing.ExpiresAt = takeover.ExpiresAt

			return ClaimResult{Outcome: OutcomeClaimed, Record: existing}, nil
		}

		// Only the claimant may finish the record.
		existing.ClaimToken = ""

		return ClaimResult{Outcome: OutcomeAlreadyExists, Record: existing}, nil
	}

	return ClaimResult{}, fmt.Errorf("%w: %s", ErrClaimContention, req.Key.String())
}

// Complete records a successful response for the claim identified by token.
// It returns ErrNotProcessing when the key was finished or taken over by another claim.
func (l *Ledger) Complete(ctx context.Context, key Key, token string, resp Response) error {
	if token == "" {
		return ErrClaimTokenRequired
	}

	now := l.cfg.Clock.Now()
	err := l.store.Finish(ctx, key, Result{
		ClaimToken:      token,
		Status:          StatusCompleted,
		ResponsePayload: resp.Payload,
		ResponseStatus:  resp.StatusCode,
		ExpiresAt:       now.Add(l.cfg.CompletedTTL),
	})
	if err != nil {
		return fmt.Errorf("idempotency complete failed: %w", err)
	}

	return nil
}

// Fail records error details for the claim identified by token.
func (l *Ledger) Fail(ctx context.Context, key Key, token, details string) error {
	if token == "" {
		return ErrClaimTokenRequired
	}

	now := l.cfg.Clock.Now()
	err := l.store.Finish(ctx, key, Result{
		ClaimToken:   token,
		Status:       StatusFailed,
		ErrorDetails: details,
		ExpiresAt:    now.Add(l.cfg.FailedTTL),
	})
	if err != nil {
		return fmt.Errorf("idempotency fail failed: %w", err)
	}

	return nil
}

// Execute runs fn at most once per key and replays the stored response afterwards.
// A failure of fn is recorded and returned unchanged.
func (l *Ledger) Execute(ctx context.Context, req ClaimRequest, fn func(ctx context.Context) (Response, error)) (Response, error) {
	res, err := l.Claim(ctx, req)
	if err != nil {
		return Response{}, err
	}

	switch res.Outcome {
	case OutcomePayloadMismatch:
		return Response{}, ErrPayloadMismatch
	case OutcomeAlreadyExists:
		return replay(res.Record)
	}

	token := res.Record.ClaimToken
	resp, runErr := fn(ctx)
	// The outcome must be recorded even when the caller went away.
	recordCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := l.Fail(recordCtx, req.Key, token, runErr.Error()); err != nil {
			l.cfg.Logger.Warn("idempotency failure not recorded", "key", req.Key.String(), "err", err)
		}

		return Response{}, runErr
	}

	if err := l.Complete(recordCtx, req.Key, token, resp); err != nil {
		return resp, err
	}

	return resp, nil
}

func replay(record Record) (Response, error) {
	switch record.Status {
	case StatusCompleted:
		return Response{
			StatusCode: record.ResponseStatus,
			Payload:    record.ResponsePayload,
			Replayed:   true,
		}, nil
	case StatusFailed:
		return Response{}, fmt.Errorf("%w: %s", ErrPreviouslyFailed, record.ErrorDetails)
	default:
		return Response{}, ErrInProgress
	}
}
