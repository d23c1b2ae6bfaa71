// Command reliable-prune trims the outbox, idempotency and rate-limit tables.
//
// It wraps prune.Pruner for cron jobs and sidecars when the application
// itself should not run DELETE statements. Settings come from reliable.yaml
// and RELIABLE_* environment variables.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/internal/config"
	"github.com/velmie/reliable/internal/telemetry"
	"github.com/velmie/reliable/mysql"
	"github.com/velmie/reliable/outbox"
	"github.com/velmie/reliable/postgres"
	"github.com/velmie/reliable/prune"
	"github.com/velmie/reliable/zaplog"
)

const (
	targetOutbox      = "outbox"
	targetIdempotency = "idempotency"
	targetRateLimit   = "ratelimit"
)

// stores holds the backend-specific pieces the pruner needs.
type stores struct {
	outbox      outbox.Sweeper
	idempotency prune.ExpiredPruner
	rateLimit   prune.ExpiredPruner
	locker      prune.Locker
}

func main() {
	var (
		configDir string
		once      bool
		verbose   bool
	)

	flag.StringVar(&configDir, "config", "", "Directory containing reliable.yaml")
	flag.BoolVar(&once, "once", false, "Run once and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	settings, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if verbose {
		settings.Log.Level = "debug"
	}

	zl, _, err := zaplog.Build(settings.Log.Level, settings.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, zaplog.New(zl), once); err != nil {
		zl.Error("prune failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Settings, logger *zaplog.Logger, once bool) error {
	shutdown, err := telemetry.Init(ctx, settings.Observability)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	db, err := openDB(settings.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := buildStores(db, settings, logger)
	if err != nil {
		return err
	}

	pruner, err := prune.New(pruneOptions(s, settings, logger)...)
	if err != nil {
		return fmt.Errorf("init pruner: %w", err)
	}

	if once {
		result, err := pruner.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if result.Skipped {
			logger.Info("prune skipped, lock held elsewhere")
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pruner.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run pruner: %w", err)
	}

	return nil
}

func openDB(cfg config.Database) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "postgres" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return db, nil
}

func buildStores(db *sql.DB, settings *config.Settings, logger reliable.Logger) (stores, error) {
	switch settings.Database.Driver {
	case "mysql":
		return mysqlStores(db, settings, logger)
	case "postgres":
		return postgresStores(db, settings, logger)
	default:
		return stores{}, fmt.Errorf("unsupported driver %q", settings.Database.Driver)
	}
}

func mysqlStores(db *sql.DB, settings *config.Settings, logger reliable.Logger) (stores, error) {
	opt := mysql.WithTables(mysql.Tables{
		Outbox:      settings.Tables.Outbox,
		Idempotency: settings.Tables.Idempotency,
		Counters:    settings.Tables.Counters,
	})

	var (
		s   stores
		err error
	)
	for _, target := range settings.Prune.Targets {
		switch target {
		case targetOutbox:
			s.outbox, err = mysql.NewOutboxStore(db, opt)
		case targetIdempotency:
			s.idempotency, err = mysql.NewIdempotencyStore(db, opt)
		case targetRateLimit:
			s.rateLimit, err = mysql.NewCounterStore(db, opt)
		}
		if err != nil {
			return stores{}, fmt.Errorf("init %s store: %w", target, err)
		}
	}
	s.locker, err = mysql.NewAdvisoryLock(db, settings.Prune.LockName, logger)
	if err != nil {
		return stores{}, fmt.Errorf("init lock: %w", err)
	}

	return s, nil
}

func postgresStores(db *sql.DB, settings *config.Settings, logger reliable.Logger) (stores, error) {
	opt := postgres.WithTables(postgres.Tables{
		Outbox:      settings.Tables.Outbox,
		Idempotency: settings.Tables.Idempotency,
		Counters:    settings.Tables.Counters,
	})

	var (
		s   stores
		err error
	)
	for _, target := range settings.Prune.Targets {
		switch target {
		case targetOutbox:
			s.outbox, err = postgres.NewOutboxStore(db, opt)
		case targetIdempotency:
			s.idempotency, err = postgres.NewIdempotencyStore(db, opt)
		case targetRateLimit:
			s.rateLimit, err = postgres.NewCounterStore(db, opt)
		}
		if err != nil {
			return stores{}, fmt.Errorf("init %s store: %w", target, err)
		}
	}
	s.locker, err = postgres.NewAdvisoryLock(db, settings.Prune.LockName, logger)
	if err != nil {
		return stores{}, fmt.Errorf("init lock: %w", err)
	}

	return s, nil
}

func pruneOptions(s stores, settings *config.Settings, logger reliable.Logger) []prune.Option {
	opts := []prune.Option{
		prune.WithInterval(settings.Prune.Interval),
		prune.WithLimit(settings.Prune.Limit),
		prune.WithOutboxRetention(settings.Prune.OutboxRetention),
		prune.WithLeaseDuration(settings.Outbox.LeaseDuration),
		prune.WithLocker(s.locker),
		prune.WithLogger(logger),
	}
	if s.outbox != nil {
		opts = append(opts, prune.WithOutbox(s.outbox))
	}
	if s.idempotency != nil {
		opts = append(opts, prune.WithIdempotency(s.idempotency))
	}
	if s.rateLimit != nil {
		opts = append(opts, prune.WithRateLimit(s.rateLimit))
	}

	return opts
}
