//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/velmie/reliable/idempotency"
	"github.com/velmie/reliable/internal/testutil"
	"github.com/velmie/reliable/outbox"
	"github.com/velmie/reliable/postgres"
	"github.com/velmie/reliable/ratelimit"
)

func setup(t *testing.T, ctx context.Context) testutil.Database {
	t.Helper()

	env := testutil.StartPostgresContainer(t, ctx)
	schema, err := postgres.Schema(postgres.Tables{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := env.DB.ExecContext(ctx, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return env
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store, err := postgres.NewOutboxStore(env.DB, postgres.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tx, err := env.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	entry := outbox.Entry{ActionType: outbox.ActionSchedule, Payload: json.RawMessage(`{"n":1}`), BusinessKey: "k1"}
	if _, err := store.Enqueue(ctx, tx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, tx, entry); !errors.Is(err, outbox.ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit after conflict: %v", err)
	}

	records, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, LeaseDuration: time.Minute})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("claimed %d, want 1", len(records))
	}

	status, err := store.Ack(ctx, records[0].Ack(outbox.Retryable(errors.New("down"))))
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if status != outbox.StatusPending {
		t.Fatalf("status = %s, want pending", status)
	}

	got, err := store.Get(ctx, records[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NextAttemptAt.IsZero() || got.LastError != "down" || got.AttemptedCount != 1 {
		t.Fatalf("retried record = %+v", got)
	}
}

func TestIdempotencyAndCounters(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	idem, err := postgres.NewIdempotencyStore(env.DB)
	if err != nil {
		t.Fatalf("new idempotency store: %v", err)
	}
	ledger := idempotency.NewLedger(idem)
	req := idempotency.ClaimRequest{
		Key:         idempotency.Key{ActorID: "U1", Key: "k", Endpoint: "e"},
		PayloadHash: idempotency.HashPayload([]byte("p")),
	}
	first, err := ledger.Claim(ctx, req)
	if err != nil || first.Outcome != idempotency.OutcomeClaimed {
		t.Fatalf("first claim = %+v, %v", first, err)
	}
	second, err := ledger.Claim(ctx, req)
	if err != nil || second.Outcome != idempotency.OutcomeAlreadyExists {
		t.Fatalf("second claim = %+v, %v", second, err)
	}

	counters, err := postgres.NewCounterStore(env.DB)
	if err != nil {
		t.Fatalf("new counter store: %v", err)
	}
	limiter := ratelimit.NewLimiter(counters)
	for i := 1; i <= 3; i++ {
		decision, err := limiter.CheckAndIncrement(ctx, ratelimit.Request{ActorID: "U1", Resource: "r", Limit: 2, Window: time.Minute})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if decision.Current != int64(i) {
			t.Fatalf("current = %d, want %d", decision.Current, i)
		}
	}
}

func TestAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	a, _ := postgres.NewAdvisoryLock(env.DB, "prune", nil)
	b, _ := postgres.NewAdvisoryLock(env.DB, "prune", nil)

	release, ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("lock a ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.TryLock(ctx); err != nil || ok {
		t.Fatalf("lock b ok=%v err=%v, want held", ok, err)
	}
	release()
}
