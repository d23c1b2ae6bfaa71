package prune_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/idempotency"
	"github.com/velmie/reliable/memory"
	"github.com/velmie/reliable/outbox"
	"github.com/velmie/reliable/prune"
	"github.com/velmie/reliable/ratelimit"
)

var start = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type failingPruner struct{ err error }

func (f failingPruner) Prune(context.Context, time.Time, int) (int64, error) {
	return 0, f.err
}

type countingPruner struct{ calls atomic.Int32 }

func (c *countingPruner) Prune(context.Context, time.Time, int) (int64, error) {
	c.calls.Add(1)

	return 0, nil
}

type fakeLocker struct {
	ok       bool
	released bool
}

func (l *fakeLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.ok {
		return nil, false, nil
	}

	return func() { l.released = true }, true, nil
}

func seedOutbox(t *testing.T, clock *reliable.ManualClock) *memory.OutboxStore {
	t.Helper()
	ctx := context.Background()

	store := memory.NewOutboxStore(memory.WithClock(clock))
	_, err := store.Enqueue(ctx, outbox.Entry{ActionType: outbox.ActionSchedule, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	records, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 1, LeaseDuration: time.Minute})
	require.NoError(t, err)
	require.Len(t, records, 1)
	_, err = store.Ack(ctx, records[0].Ack(outbox.Success()))
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, outbox.Entry{
		ActionType: outbox.ActionSchedule,
		Payload:    json.RawMessage(`{}`),
		ExpiresAt:  start.Add(time.Hour),
	})
	require.NoError(t, err)

	return store
}

func TestNewRequiresTarget(t *testing.T) {
	_, err := prune.New()
	require.ErrorIs(t, err, prune.ErrNoTargets)

	_, err = prune.New(prune.WithRateLimit(memory.NewCounterStore()), prune.WithLimit(-1))
	require.ErrorIs(t, err, prune.ErrInvalidLimit)
}

func TestRunOncePrunesAllStores(t *testing.T) {
	ctx := context.Background()
	clock := reliable.NewManualClock(start)
	outboxStore := seedOutbox(t, clock)

	idem := memory.NewIdempotencyStore()
	require.NoError(t, idem.Insert(ctx, idempotency.Record{
		Key:         idempotency.Key{ActorID: "U1", Key: "k", Endpoint: "e"},
		PayloadHash: "h",
		Status:      idempotency.StatusCompleted,
		CreatedAt:   start,
		ExpiresAt:   start.Add(24 * time.Hour),
	}))

	counters := memory.NewCounterStore()
	_, err := counters.Increment(ctx, ratelimit.CounterKey{ActorID: "U1", Resource: "r", WindowStart: start}, 1, start.Add(time.Hour))
	require.NoError(t, err)

	pruner, err := prune.New(
		prune.WithOutbox(outboxStore),
		prune.WithIdempotency(idem),
		prune.WithRateLimit(counters),
		prune.WithOutboxRetention(7*24*time.Hour),
		prune.WithClock(clock),
	)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	res, err := pruner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, prune.OutboxResult{Expired: 1, Deleted: 1}, res.Outbox)
	assert.EqualValues(t, 1, res.Idempotency)
	assert.EqualValues(t, 1, res.RateLimit)
	assert.Zero(t, counters.Len())

	pending, err := outboxStore.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	// The freshly expired entry is kept until it ages past the retention.
	res, err = pruner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, prune.OutboxResult{}, res.Outbox)
}

func TestRunOnceFailsAbandonedFinalAttempts(t *testing.T) {
	ctx := context.Background()
	clock := reliable.NewManualClock(start)
	store := memory.NewOutboxStore(memory.WithClock(clock), memory.WithPolicy(outbox.Policy{MaxAttempts: 1}))
	id, err := store.Enqueue(ctx, outbox.Entry{ActionType: outbox.ActionSchedule, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, err = store.Claim(ctx, outbox.ClaimOptions{BatchSize: 1, LeaseDuration: time.Minute})
	require.NoError(t, err)

	pruner, err := prune.New(
		prune.WithOutbox(store),
		prune.WithLeaseDuration(time.Minute),
		prune.WithClock(clock),
	)
	require.NoError(t, err)

	res, err := pruner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Outbox.Abandoned, "live lease is left to its worker")

	clock.Advance(2 * time.Minute)
	res, err = pruner.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Outbox.Abandoned)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, rec.Status)
	assert.Equal(t, outbox.AbandonedError, rec.LastError)
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	clock := reliable.NewManualClock(start)
	boom := errors.New("idempotency table missing")

	counters := memory.NewCounterStore()
	_, err := counters.Increment(ctx, ratelimit.CounterKey{ActorID: "U1", Resource: "r", WindowStart: start}, 1, start.Add(time.Minute))
	require.NoError(t, err)

	pruner, err := prune.New(
		prune.WithIdempotency(failingPruner{err: boom}),
		prune.WithRateLimit(counters),
		prune.WithClock(clock),
	)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err := pruner.RunOnce(ctx)
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, res.RateLimit)
}

func TestRunOnceRespectsLimit(t *testing.T) {
	ctx := context.Background()
	counters := memory.NewCounterStore()
	for i := 0; i < 5; i++ {
		_, err := counters.Increment(ctx, ratelimit.CounterKey{ActorID: "U1", Resource: "r", WindowStart: start.Add(time.Duration(i) * time.Minute)}, 1, start)
		require.NoError(t, err)
	}

	pruner, err := prune.New(prune.WithRateLimit(counters), prune.WithLimit(2), prune.WithClock(reliable.NewManualClock(start)))
	require.NoError(t, err)

	res, err := pruner.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RateLimit)
	assert.Equal(t, 3, counters.Len())
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	counter := &countingPruner{}
	locker := &fakeLocker{}

	pruner, err := prune.New(prune.WithRateLimit(counter), prune.WithLocker(locker))
	require.NoError(t, err)

	res, err := pruner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, counter.calls.Load())

	locker.ok = true
	res, err = pruner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.True(t, locker.released)
	assert.EqualValues(t, 1, counter.calls.Load())
}

func TestRunTicksUntilCanceled(t *testing.T) {
	counter := &countingPruner{}
	pruner, err := prune.New(prune.WithRateLimit(counter), prune.WithInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pruner.Run(ctx) }()

	require.Eventually(t, func() bool { return counter.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
