package fibermw

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/idempotency"
	"github.com/velmie/reliable/memory"
	"github.com/velmie/reliable/ratelimit"
)

func headerActor(c *fiber.Ctx) string {
	return c.Get("X-User")
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	clock := reliable.NewManualClock(time.Date(2025, 1, 1, 10, 59, 0, 0, time.UTC))
	limiter := ratelimit.NewLimiter(memory.NewCounterStore(), ratelimit.WithClock(clock))

	app := fiber.New()
	app.Use(RateLimit(limiter, RateLimitConfig{Resource: "create_post", Limit: 2, Window: time.Hour, Actor: headerActor}))
	app.Post("/posts", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) *httpResponse {
		req := httptest.NewRequest("POST", "/posts", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)

		return &httpResponse{status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After"), remaining: resp.Header.Get("X-RateLimit-Remaining")}
	}

	assert.Equal(t, fiber.StatusCreated, send("U1").status)
	second := send("U1")
	assert.Equal(t, fiber.StatusCreated, second.status)
	assert.Equal(t, "0", second.remaining)

	third := send("U1")
	assert.Equal(t, fiber.StatusTooManyRequests, third.status)
	assert.Equal(t, "60", third.retryAfter)

	assert.Equal(t, fiber.StatusCreated, send("U2").status)

	clock.Advance(time.Minute)
	assert.Equal(t, fiber.StatusCreated, send("U1").status)
}

func TestRateLimitRequiresActor(t *testing.T) {
	limiter := ratelimit.NewLimiter(memory.NewCounterStore())
	app := fiber.New()
	app.Use(RateLimit(limiter, RateLimitConfig{Resource: "r", Limit: 1, Window: time.Minute, Actor: headerActor}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

type httpResponse struct {
	status     int
	retryAfter string
	remaining  string
}

func newIdempotentApp(t *testing.T, handler fiber.Handler, opts ...idempotency.Option) *fiber.App {
	t.Helper()

	ledger := idempotency.NewLedger(memory.NewIdempotencyStore(), opts...)
	app := fiber.New()
	app.Use(Idempotency(ledger, IdempotencyConfig{Actor: headerActor}))
	app.Post("/posts", handler)

	return app
}

func post(t *testing.T, app *fiber.App, key, body string) (int, string, string) {
	t.Helper()

	req := httptest.NewRequest("POST", "/posts", strings.NewReader(body))
	req.Header.Set("X-User", "U1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(data), resp.Header.Get(HeaderReplayed)
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	var calls atomic.Int32
	app := newIdempotentApp(t, func(c *fiber.Ctx) error {
		n := calls.Add(1)

		return c.Status(fiber.StatusCreated).SendString("post-" + string(rune('0'+n)))
	})

	status, body, replayed := post(t, app, "k1", `{"title":"hi"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "post-1", body)
	assert.Empty(t, replayed)

	status, body, replayed = post(t, app, "k1", `{"title":"hi"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "post-1", body)
	assert.Equal(t, "true", replayed)
	assert.EqualValues(t, 1, calls.Load())

	status, _, _ = post(t, app, "k1", `{"title":"changed"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body, _ = post(t, app, "", `{"title":"hi"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "post-2", body)
}

func TestIdempotencyRecordsFailures(t *testing.T) {
	var calls atomic.Int32
	handler := func(c *fiber.Ctx) error {
		if calls.Add(1) == 1 {
			return errors.New("database down")
		}

		return c.SendStatus(fiber.StatusOK)
	}

	app := newIdempotentApp(t, handler)
	status, _, _ := post(t, app, "k1", "{}")
	assert.Equal(t, fiber.StatusInternalServerError, status)

	status, body, _ := post(t, app, "k1", "{}")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Contains(t, body, "database down")

	retrying := newIdempotentApp(t, handler, idempotency.WithRetryFailed(true))
	calls.Store(0)
	status, _, _ = post(t, retrying, "k2", "{}")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	status, _, _ = post(t, retrying, "k2", "{}")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestIdempotencyInProgress(t *testing.T) {
	ledger := idempotency.NewLedger(memory.NewIdempotencyStore())
	_, err := ledger.Claim(context.Background(), idempotency.ClaimRequest{
		Key:         idempotency.Key{ActorID: "U1", Key: "k1", Endpoint: "POST /posts"},
		PayloadHash: idempotency.HashPayload([]byte("POST /posts"), []byte("{}")),
	})
	require.NoError(t, err)

	app := fiber.New()
	app.Use(Idempotency(ledger, IdempotencyConfig{Actor: headerActor, Required: true}))
	app.Post("/posts", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	status, body, _ := post(t, app, "k1", "{}")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Contains(t, body, "idempotency_in_progress")

	status, _, _ = post(t, app, "", "{}")
	assert.Equal(t, fiber.StatusBadRequest, status)
}
