package prune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/reliable/outbox"
)

// OutboxResult counts outbox rows touched by one run.
type OutboxResult struct {
	Expired int64
	// Abandoned counts entries failed because their final attempt lost its lease.
	Abandoned int64
	Deleted   int64
}

// Result reports one run. Skipped is set when another process held the lock.
type Result struct {
	Outbox      OutboxResult
	Idempotency int64
	RateLimit   int64
	Skipped     bool
}

// Pruner trims the outbox, idempotency and rate-limit stores.
type Pruner struct {
	cfg Config
}

// New builds a Pruner. At least one store must be configured.
func New(opts ...Option) (*Pruner, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.outbox == nil && cfg.idempotency == nil && cfg.rateLimit == nil {
		return nil, ErrNoTargets
	}
	if cfg.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	if cfg.OutboxRetention < 0 {
		return nil, ErrInvalidRetention
	}

	return &Pruner{cfg: cfg.withDefaults()}, nil
}

// Run prunes immediately and then every Interval until ctx is canceled.
// Failed runs are logged and retried on the next tick.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runLogged(ctx)
		}
	}
}

func (p *Pruner) runLogged(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.cfg.Logger.Warn("prune run failed", "err", err)
	}
}

// RunOnce executes a single pass over every configured store.
// A failing store does not stop the others; their errors are joined.
func (p *Pruner) RunOnce(ctx context.Context) (Result, error) {
	if p.cfg.Locker != nil {
		release, ok, err := p.cfg.Locker.TryLock(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("prune: lock failed: %w", err)
		}
		if !ok {
			p.cfg.Logger.Debug("prune lock held by another session")

			return Result{Skipped: true}, nil
		}
		defer release()
	}

	now := p.cfg.Clock.Now()
	var (
		res  Result
		errs []error
	)

	if p.cfg.outbox != nil {
		expired, err := p.cfg.outbox.ExpireOverdue(ctx, outbox.ExpireOptions{
			Now:           now,
			LeaseDuration: p.cfg.LeaseDuration,
			Limit:         p.cfg.Limit,
		})
		if err != nil {
			errs = append(errs, p.failed("outbox expire", err))
		}
		res.Outbox.Expired = expired

		abandoned, err := p.cfg.outbox.FailAbandoned(ctx, outbox.ExpireOptions{
			Now:           now,
			LeaseDuration: p.cfg.LeaseDuration,
			Limit:         p.cfg.Limit,
		})
		if err != nil {
			errs = append(errs, p.failed("outbox abandoned", err))
		}
		res.Outbox.Abandoned = abandoned

		deleted, err := p.cfg.outbox.PruneTerminal(ctx, outbox.PruneOptions{
			Before: now.Add(-p.cfg.OutboxRetention),
			Limit:  p.cfg.Limit,
		})
		if err != nil {
			errs = append(errs, p.failed("outbox", err))
		}
		res.Outbox.Deleted = deleted
	}

	if p.cfg.idempotency != nil {
		n, err := p.cfg.idempotency.Prune(ctx, now, p.cfg.Limit)
		if err != nil {
			errs = append(errs, p.failed("idempotency", err))
		}
		res.Idempotency = n
	}

	if p.cfg.rateLimit != nil {
		n, err := p.cfg.rateLimit.Prune(ctx, now, p.cfg.Limit)
		if err != nil {
			errs = append(errs, p.failed("rate limit", err))
		}
		res.RateLimit = n
	}

	p.cfg.Logger.Info("prune completed",
		"outbox_expired", res.Outbox.Expired,
		"outbox_abandoned", res.Outbox.Abandoned,
		"outbox_deleted", res.Outbox.Deleted,
		"idempotency_deleted", res.Idempotency,
		"ratelimit_deleted", res.RateLimit,
	)

	return res, errors.Join(errs...)
}

func (p *Pruner) failed(store string, err error) error {
	p.cfg.Logger.Warn("prune store failed", "store", store, "err", err)

	return fmt.Errorf("prune %s: %w", store, err)
}
