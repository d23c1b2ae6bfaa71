package fibermw

import (
	"bytes"
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/idempotency"
)

const (
	// HeaderIdempotencyKey carries the client-chosen key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed marks responses served from the ledger.
	HeaderReplayed = "Idempotent-Replayed"
)

// IdempotencyConfig controls the Idempotency middleware.
type IdempotencyConfig struct {
	// Actor defaults to IPActor.
	Actor ActorFunc
	// Endpoint defaults to the method and request path.
	Endpoint func(c *fiber.Ctx) string
	// Required rejects requests without an Idempotency-Key with 400.
	Required bool
	Logger   reliable.Logger
}

// Idempotency runs the downstream handler at most once per (actor, key, endpoint).
// Completed requests are replayed with their stored status and body. A repeat while the
// first request is still running gets 409, and a reused key with a different body gets 422.
// Responses with a 5xx status are recorded as failures.
func Idempotency(ledger *idempotency.Ledger, cfg IdempotencyConfig) fiber.Handler {
	if ledger == nil {
		panic("fibermw: nil Ledger")
	}
	if cfg.Actor == nil {
		cfg.Actor = IPActor
	}
	if cfg.Endpoint == nil {
		cfg.Endpoint = pathEndpoint
	}
	cfg.Logger = reliable.LoggerOrNop(cfg.Logger)

	return func(c *fiber.Ctx) error {
		raw := c.Get(HeaderIdempotencyKey)
		if raw == "" {
			if cfg.Required {
				return respondError(c, fiber.StatusBadRequest, "idempotency_key_required", "The Idempotency-Key header is required.")
			}

			return c.Next()
		}

		key := idempotency.Key{ActorID: cfg.Actor(c), Key: raw, Endpoint: cfg.Endpoint(c)}
		res, err := ledger.Claim(c.UserContext(), idempotency.ClaimRequest{
			Key:         key,
			PayloadHash: idempotency.HashPayload([]byte(key.Endpoint), c.Body()),
		})
		switch {
		case errors.Is(err, idempotency.ErrKeyRequired), errors.Is(err, idempotency.ErrKeyTooLong):
			return respondError(c, fiber.StatusBadRequest, "idempotency_key_invalid", err.Error())
		case errors.Is(err, idempotency.ErrClaimContention):
			return respondError(c, fiber.StatusConflict, "idempotency_contention", "The request is being processed concurrently.")
		case err != nil:
			return err
		}

		switch res.Outcome {
		case idempotency.OutcomePayloadMismatch:
			return respondError(c, fiber.StatusUnprocessableEntity, "idempotency_key_reused", "The Idempotency-Key was used with a different request.")
		case idempotency.OutcomeAlreadyExists:
			return replay(c, res.Record)
		}

		nextErr := c.Next()
		status := c.Response().StatusCode()
		recordCtx := context.WithoutCancel(c.UserContext())

		if nextErr != nil || status >= fiber.StatusInternalServerError {
			details := string(c.Response().Body())
			if nextErr != nil {
				details = nextErr.Error()
			}
			if err := ledger.Fail(recordCtx, key, res.Record.ClaimToken, details); err != nil {
				cfg.Logger.Warn("idempotency failure not recorded", "key", key.String(), "err", err)
			}

			return nextErr
		}

		resp := idempotency.Response{StatusCode: status, Payload: bytes.Clone(c.Response().Body())}
		if err := ledger.Complete(recordCtx, key, res.Record.ClaimToken, resp); err != nil {
			cfg.Logger.Warn("idempotency response not recorded", "key", key.String(), "err", err)
		}

		return nil
	}
}

func replay(c *fiber.Ctx, rec idempotency.Record) error {
	switch rec.Status {
	case idempotency.StatusCompleted:
		c.Set(HeaderReplayed, "true")

		return c.Status(rec.ResponseStatus).Send(rec.ResponsePayload)
	case idempotency.StatusFailed:
		return respondError(c, fiber.StatusConflict, "idempotency_previously_failed", rec.ErrorDetails)
	default:
		return respondError(c, fiber.StatusConflict, "idempotency_in_progress", "A request with this Idempotency-Key is still being processed.")
	}
}

func pathEndpoint(c *fiber.Ctx) string {
	return c.Method() + " " + c.Path()
}
