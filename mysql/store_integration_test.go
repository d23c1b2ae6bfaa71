//go:build integration

package mysql_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/idempotency"
	"github.com/velmie/reliable/internal/testutil"
	"github.com/velmie/reliable/mysql"
	"github.com/velmie/reliable/outbox"
	"github.com/velmie/reliable/ratelimit"
)

func setup(t *testing.T, ctx context.Context) testutil.Database {
	t.Helper()

	env := testutil.StartMySQLContainer(t, ctx)
	schema, err := mysql.Schema(mysql.Tables{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := env.DB.ExecContext(ctx, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return env
}

func TestOutboxRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store, err := mysql.NewOutboxStore(env.DB, mysql.WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tx, err := env.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	id, err := store.Enqueue(ctx, tx, outbox.Entry{
		ActionType:  outbox.ActionSchedule,
		Payload:     json.RawMessage(`{"post_id":42}`),
		BusinessKey: "notify:post:42",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = store.Enqueue(ctx, env.DB, outbox.Entry{
		ActionType:  outbox.ActionSchedule,
		Payload:     json.RawMessage(`{}`),
		BusinessKey: "notify:post:42",
	})
	if !errors.Is(err, outbox.ErrConflict) {
		t.Fatalf("duplicate enqueue err = %v, want ErrConflict", err)
	}

	records, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, LeaseDuration: time.Minute})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("claimed %+v, want entry %s", records, id)
	}
	rec := records[0]
	if rec.AttemptedCount != 1 || rec.Status != outbox.StatusInProgress {
		t.Fatalf("claimed record = %+v", rec)
	}

	again, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, LeaseDuration: time.Minute})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("leased entry claimed twice")
	}

	status, err := store.Ack(ctx, rec.Ack(outbox.Success()))
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if status != outbox.StatusProcessed {
		t.Fatalf("status = %s, want processed", status)
	}
	if _, err := store.Ack(ctx, rec.Ack(outbox.Success())); !errors.Is(err, outbox.ErrStaleClaim) {
		t.Fatalf("second ack err = %v, want ErrStaleClaim", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProcessedAt.IsZero() || got.ClaimID != uuid.Nil {
		t.Fatalf("processed record = %+v", got)
	}

	deleted, err := store.PruneTerminal(ctx, outbox.PruneOptions{Before: time.Now().Add(time.Minute), Limit: 100})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("pruned %d, want 1", deleted)
	}
}

func TestOutboxConcurrentClaimsDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store := mysql.MustNewOutboxStore(env.DB)
	const total = 40
	for i := 0; i < total; i++ {
		if _, err := store.Enqueue(ctx, env.DB, outbox.Entry{
			ActionType: outbox.ActionSchedule,
			Payload:    json.RawMessage(`{}`),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				records, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 7, LeaseDuration: time.Minute})
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(records) == 0 {
					return
				}
				mu.Lock()
				for _, rec := range records {
					seen[rec.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct entries, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("entry %s claimed %d times", id, n)
		}
	}
}

func TestIdempotencyLedger(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store, err := mysql.NewIdempotencyStore(env.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ledger := idempotency.NewLedger(store)
	req := idempotency.ClaimRequest{
		Key:         idempotency.Key{ActorID: "U1", Key: "abc", Endpoint: "create_post"},
		PayloadHash: idempotency.HashPayload([]byte("hello")),
	}

	calls := 0
	run := func(context.Context) (idempotency.Response, error) {
		calls++

		return idempotency.Response{StatusCode: 201, Payload: []byte(`{"id":1}`)}, nil
	}
	first, err := ledger.Execute(ctx, req, run)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	second, err := ledger.Execute(ctx, req, run)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if calls != 1 || !second.Replayed || string(second.Payload) != string(first.Payload) {
		t.Fatalf("calls = %d, replay = %+v", calls, second)
	}

	req.PayloadHash = idempotency.HashPayload([]byte("changed"))
	res, err := ledger.Claim(ctx, req)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Outcome != idempotency.OutcomePayloadMismatch {
		t.Fatalf("outcome = %s, want payload mismatch", res.Outcome)
	}
}

func TestIdempotencyLateCompleteAfterTakeover(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store, err := mysql.NewIdempotencyStore(env.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := reliable.NewManualClock(time.Now().UTC().Truncate(time.Microsecond))
	ledger := idempotency.NewLedger(store, idempotency.WithClock(clock), idempotency.WithProcessingTTL(time.Hour))
	req := idempotency.ClaimRequest{
		Key:         idempotency.Key{ActorID: "U1", Key: "abc", Endpoint: "create_post"},
		PayloadHash: idempotency.HashPayload([]byte("hello")),
	}

	first, err := ledger.Claim(ctx, req)
	if err != nil || first.Outcome != idempotency.OutcomeClaimed {
		t.Fatalf("first claim = %+v, err = %v", first, err)
	}
	clock.Advance(2 * time.Hour)
	second, err := ledger.Claim(ctx, req)
	if err != nil || second.Outcome != idempotency.OutcomeClaimed {
		t.Fatalf("second claim = %+v, err = %v", second, err)
	}

	err = ledger.Complete(ctx, req.Key, first.Record.ClaimToken, idempotency.Response{StatusCode: 200, Payload: []byte("A")})
	if !errors.Is(err, idempotency.ErrNotProcessing) {
		t.Fatalf("late complete err = %v, want ErrNotProcessing", err)
	}
	err = ledger.Complete(ctx, req.Key, second.Record.ClaimToken, idempotency.Response{StatusCode: 201, Payload: []byte("B")})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec, err := store.Get(ctx, req.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != idempotency.StatusCompleted || rec.ResponseStatus != 201 || string(rec.ResponsePayload) != "B" {
		t.Fatalf("stored record = %+v", rec)
	}
}

func TestKeysDifferingOnlyByCaseAreIndependent(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	idem, err := mysql.NewIdempotencyStore(env.DB)
	if err != nil {
		t.Fatalf("new idempotency store: %v", err)
	}
	ledger := idempotency.NewLedger(idem)
	for _, key := range []string{"abc", "ABC"} {
		res, err := ledger.Claim(ctx, idempotency.ClaimRequest{
			Key:         idempotency.Key{ActorID: "U1", Key: key, Endpoint: "create_post"},
			PayloadHash: idempotency.HashPayload([]byte(key)),
		})
		if err != nil {
			t.Fatalf("claim %q: %v", key, err)
		}
		if res.Outcome != idempotency.OutcomeClaimed {
			t.Fatalf("claim %q outcome = %s, want claimed", key, res.Outcome)
		}
	}

	counters, err := mysql.NewCounterStore(env.DB)
	if err != nil {
		t.Fatalf("new counter store: %v", err)
	}
	limiter := ratelimit.NewLimiter(counters)
	for _, actor := range []string{"user", "USER"} {
		decision, err := limiter.CheckAndIncrement(ctx, ratelimit.Request{ActorID: actor, Resource: "login", Limit: 1, Window: time.Hour})
		if err != nil {
			t.Fatalf("check %q: %v", actor, err)
		}
		if !decision.Allowed || decision.Current != 1 {
			t.Fatalf("actor %q decision = %+v, want first attempt allowed", actor, decision)
		}
	}

	outboxStore, err := mysql.NewOutboxStore(env.DB)
	if err != nil {
		t.Fatalf("new outbox store: %v", err)
	}
	for _, key := range []string{"notify:post:a", "notify:post:A"} {
		_, err := outboxStore.Enqueue(ctx, env.DB, outbox.Entry{
			ActionType:  outbox.ActionSchedule,
			Payload:     json.RawMessage(`{}`),
			BusinessKey: key,
		})
		if err != nil {
			t.Fatalf("enqueue %q: %v", key, err)
		}
	}
}

func TestCounterStoreUpsert(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	store, err := mysql.NewCounterStore(env.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	limiter := ratelimit.NewLimiter(store)
	req := ratelimit.Request{ActorID: "U1", Resource: "login", Limit: 3, Window: time.Hour}

	for i := 1; i <= 4; i++ {
		decision, err := limiter.CheckAndIncrement(ctx, req)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if decision.Current != int64(i) {
			t.Fatalf("current = %d, want %d", decision.Current, i)
		}
		if decision.Allowed != (i <= 3) {
			t.Fatalf("attempt %d allowed = %v", i, decision.Allowed)
		}
	}

	pruned, err := store.Prune(ctx, time.Now().Add(2*time.Hour), 100)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d, want 1", pruned)
	}
}

func TestAdvisoryLockExclusive(t *testing.T) {
	ctx := context.Background()
	env := setup(t, ctx)

	first, err := mysql.NewAdvisoryLock(env.DB, "reliable-prune", nil)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := mysql.NewAdvisoryLock(env.DB, "reliable-prune", nil)

	release, ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first lock ok=%v err=%v", ok, err)
	}
	if _, ok, err := second.TryLock(ctx); err != nil || ok {
		t.Fatalf("second lock ok=%v err=%v, want held", ok, err)
	}
	release()

	release, ok, err = second.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("relock ok=%v err=%v", ok, err)
	}
	release()
}
