package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher claims due entries from a Claimer and invokes a Handler for each.
type Dispatcher struct {
	claimer Claimer
	handler Handler
	cfg     DispatcherConfig

	pendingMu sync.Mutex
	pendingAt time.Time
}

type batchOutcome struct {
	processed int
	retried   int
	failed    int
	errors    int
	stale     int
}

// NewDispatcher constructs a Dispatcher with defaults and optional settings.
func NewDispatcher(claimer Claimer, handler Handler, opts ...DispatcherOption) *Dispatcher {
	if claimer == nil {
		panic("outbox: nil Claimer")
	}
	if handler == nil {
		panic("outbox: nil Handler")
	}

	var cfg DispatcherConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		claimer: claimer,
		handler: handler,
		cfg:     cfg,
	}
}

// Run starts the claim loop with the configured number of workers.
// It returns when ctx is canceled or a worker fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, d.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					d.cfg.Logger.Error("outbox worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := d.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.cfg.Logger.Error("outbox worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce claims and processes a single batch.
// It reports whether any entry was claimed.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (bool, error) {
	ok, err := d.claimer.HasClaimable(ctx, d.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("outbox claimable check failed: %w", err)
	}
	if !ok {
		d.maybeRecordPending(ctx)

		return false, nil
	}

	records, err := d.claimer.Claim(ctx, ClaimOptions{
		BatchSize:     d.cfg.BatchSize,
		LeaseDuration: d.cfg.LeaseDuration,
	})
	if err != nil {
		return false, fmt.Errorf("outbox claim failed: %w", err)
	}
	if len(records) == 0 {
		// Another worker took the due entries between the check and the claim.
		return false, nil
	}

	if err := d.processBatch(ctx, records); err != nil {
		return true, err
	}

	return true, nil
}

func (d *Dispatcher) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, err := d.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		if claimed {
			continue
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context, records []Record) error {
	start := time.Now()
	d.cfg.Metrics.AddClaimed(len(records))

	var outcome batchOutcome
	defer func() {
		d.cfg.Metrics.ObserveBatchDuration(time.Since(start))
		d.cfg.Metrics.AddProcessed(outcome.processed)
		d.cfg.Metrics.AddErrors(outcome.errors)
		d.cfg.Metrics.AddRetries(outcome.retried)
		d.cfg.Metrics.AddFailed(outcome.failed)
		d.cfg.Metrics.AddStale(outcome.stale)
	}()

	for i := range records {
		if err := d.processRecord(ctx, records[i], &outcome); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) processRecord(ctx context.Context, record Record, outcome *batchOutcome) error {
	ctx, span := d.cfg.Tracer.Start(ctx, "outbox.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("outbox.id", record.ID.String()),
			attribute.String("outbox.action_type", record.ActionType.String()),
			attribute.Int("outbox.attempt", record.AttemptedCount),
		),
	)
	defer span.End()

	timeout, ok := d.handlerTimeout(record)
	if !ok {
		// Lease lapsed while earlier records ran; another worker may hold it now.
		outcome.stale++
		d.cfg.Logger.Debug("outbox entry skipped, lease lapsed", "id", record.ID.String())
		span.SetStatus(codes.Error, "lease lapsed")

		return nil
	}

	handleCtx, cancel := context.WithTimeout(ctx, timeout)
	err := d.handler.Handle(handleCtx, record)
	cancel()

	if err != nil && ctx.Err() != nil {
		// Shutdown: leave the entry leased so it is reclaimed after the lease lapses.
		span.SetStatus(codes.Error, "canceled")

		return ctx.Err()
	}

	result := d.cfg.Classifier(ctx, record, err)
	if err != nil {
		outcome.errors++
		span.RecordError(err)
		if d.cfg.ErrorHandler != nil {
			d.cfg.ErrorHandler(ctx, record, err)
		}
	}

	status, ackErr := d.claimer.Ack(ctx, record.Ack(result))
	switch {
	case errors.Is(ackErr, ErrStaleClaim):
		outcome.stale++
		d.cfg.Logger.Debug("outbox ack dropped, claim is stale", "id", record.ID.String())
		span.SetStatus(codes.Error, "stale claim")

		return nil
	case ackErr != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.cfg.Logger.Warn("outbox ack failed", "id", record.ID.String(), "err", ackErr)
		span.SetStatus(codes.Error, ackErr.Error())

		return nil
	}

	span.SetAttributes(attribute.String("outbox.status", status.String()))
	switch status {
	case StatusProcessed:
		outcome.processed++
		span.SetStatus(codes.Ok, "")
	case StatusPending:
		outcome.retried++
		span.SetStatus(codes.Error, "retry scheduled")
	case StatusFailed:
		outcome.failed++
		span.SetStatus(codes.Error, "failed")
		d.cfg.Logger.Warn("outbox entry failed", "id", record.ID.String(), "attempt", record.AttemptedCount, "err", err)
	}

	return nil
}

// handlerTimeout bounds a handler call by HandlerTimeout and by what is left of the record's lease.
// It reports false when the lease has already lapsed.
func (d *Dispatcher) handlerTimeout(record Record) (time.Duration, bool) {
	if record.ClaimedAt.IsZero() {
		return d.cfg.HandlerTimeout, true
	}

	left := record.ClaimedAt.Add(d.cfg.LeaseDuration).Sub(d.cfg.Clock.Now())
	if left <= 0 {
		return 0, false
	}

	return min(d.cfg.HandlerTimeout, left), true
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) maybeRecordPending(ctx context.Context) {
	counter, ok := d.claimer.(PendingCounter)
	if !ok {
		return
	}
	if d.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := d.cfg.Clock.Now()
	d.pendingMu.Lock()
	nextAllowed := d.pendingAt.Add(d.cfg.PendingInterval)
	if !d.pendingAt.IsZero() && now.Before(nextAllowed) {
		d.pendingMu.Unlock()

		return
	}
	d.pendingAt = now
	d.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		d.cfg.Logger.Warn("outbox pending count failed", "err", err)

		return
	}

	d.cfg.Metrics.SetPending(count)
}
