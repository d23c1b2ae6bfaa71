// Command reliable-bench measures outbox drain throughput against MySQL or Postgres.
//
// It seeds pending entries, runs the Dispatcher until every entry is
// processed and reports throughput, delivery latency and the dispatcher
// metrics collected through OpenTelemetry.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/backoff"
	"github.com/velmie/reliable/mysql"
	"github.com/velmie/reliable/otelmetrics"
	"github.com/velmie/reliable/outbox"
	"github.com/velmie/reliable/postgres"
	"github.com/velmie/reliable/zaplog"
)

const (
	defaultRecords          = 10000
	defaultPayloadBytes     = 512
	defaultWorkers          = 4
	defaultBatchSize        = 50
	defaultSeedBatchSize    = 500
	defaultDrainTimeout     = 5 * time.Minute
	defaultProgressInterval = 10 * time.Second
	defaultPollInterval     = 10 * time.Millisecond
	retryBackoff            = 10 * time.Millisecond
	percentileP50           = 0.50
	percentileP95           = 0.95
	percentileP99           = 0.99
)

var (
	errDSNRequired        = errors.New("reliable-bench: dsn is required")
	errUnsupportedDriver  = errors.New("reliable-bench: unsupported driver")
	errInvalidRecords     = errors.New("reliable-bench: records must be positive")
	errProcessedMismatch  = errors.New("reliable-bench: processed records mismatch")
	errDrainTimeout       = errors.New("reliable-bench: drain timed out")
	errSimulatedTransient = errors.New("reliable-bench: simulated transient failure")
)

// benchStore is what the benchmark needs from a SQL outbox store.
type benchStore interface {
	outbox.Claimer
	outbox.PendingCounter
	Enqueue(ctx context.Context, exec reliable.Executor, entry outbox.Entry) (uuid.UUID, error)
}

type benchConfig struct {
	driver           string
	table            string
	records          int
	payload          []byte
	workers          int
	batchSize        int
	seedBatchSize    int
	failEvery        int
	drainTimeout     time.Duration
	progressInterval time.Duration
}

type result struct {
	Driver         string        `json:"driver"`
	Records        int           `json:"records"`
	Workers        int           `json:"workers"`
	BatchSize      int           `json:"batch_size"`
	PayloadBytes   int           `json:"payload_bytes"`
	FailEvery      int           `json:"fail_every"`
	SeedDuration   time.Duration `json:"seed_duration"`
	RunDuration    time.Duration `json:"run_duration"`
	Throughput     float64       `json:"throughput_msg_per_sec"`
	Claimed        int64         `json:"claimed"`
	Processed      int64         `json:"processed"`
	Retries        int64         `json:"retries"`
	Failed         int64         `json:"failed"`
	Stale          int64         `json:"stale"`
	Batches        uint64        `json:"batches"`
	BatchMeanMs    float64       `json:"batch_mean_ms"`
	LatencyP50Ms   float64       `json:"latency_p50_ms"`
	LatencyP95Ms   float64       `json:"latency_p95_ms"`
	LatencyP99Ms   float64       `json:"latency_p99_ms"`
	LatencyMaxMs   float64       `json:"latency_max_ms"`
	LatencySamples int           `json:"latency_samples"`
}

func main() {
	var (
		cfg           benchConfig
		dsn           string
		payloadBytes  int
		payloadRandom bool
		payloadSeed   int64
		reset         bool
		verbose       bool
		jsonOut       bool
	)

	flag.StringVar(&cfg.driver, "driver", "mysql", "Backend: mysql or postgres")
	flag.StringVar(&dsn, "dsn", "", "Database DSN")
	flag.StringVar(&cfg.table, "table", "outbox_bench", "Outbox table name")
	flag.IntVar(&cfg.records, "records", defaultRecords, "Number of entries to seed and drain")
	flag.IntVar(&payloadBytes, "payload-bytes", defaultPayloadBytes, "Payload size in bytes")
	flag.BoolVar(&payloadRandom, "payload-random", false, "Generate random payload contents")
	flag.Int64Var(&payloadSeed, "payload-seed", 1, "Random seed for payload generation")
	flag.IntVar(&cfg.workers, "workers", defaultWorkers, "Dispatcher workers")
	flag.IntVar(&cfg.batchSize, "batch-size", defaultBatchSize, "Claim batch size")
	flag.IntVar(&cfg.seedBatchSize, "seed-batch-size", defaultSeedBatchSize, "Entries per seed transaction")
	flag.IntVar(&cfg.failEvery, "fail-every", 0, "Fail the first attempt of every Nth entry (0 disables)")
	flag.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "Maximum time to drain the outbox")
	flag.DurationVar(&cfg.progressInterval, "progress-interval", defaultProgressInterval, "Progress log interval")
	flag.BoolVar(&reset, "reset", true, "Drop and recreate the table")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	if dsn == "" {
		exitErr(errDSNRequired)
	}
	if cfg.records <= 0 {
		exitErr(errInvalidRecords)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	zl, _, err := zaplog.Build(level, false)
	if err != nil {
		exitErr(err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zaplog.New(zl).With("driver", cfg.driver, "table", cfg.table)

	// #nosec G404 -- deterministic RNG for benchmark payloads.
	cfg.payload = buildPayload(payloadBytes, payloadRandom, rand.New(rand.NewSource(payloadSeed)))

	db, store, err := openStore(cfg, dsn)
	if err != nil {
		exitErr(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(max(defaultWorkers, cfg.workers*2))

	ctx := context.Background()
	if reset {
		if err := resetTable(ctx, db, cfg); err != nil {
			exitErr(err)
		}
	}

	seedStart := time.Now()
	if err := seedEntries(ctx, db, store, cfg); err != nil {
		exitErr(err)
	}
	seedDuration := time.Since(seedStart)
	logger.Info("seeded", "records", cfg.records, "duration", seedDuration)

	res, err := drain(ctx, store, cfg, logger)
	if err != nil {
		exitErr(err)
	}
	res.SeedDuration = seedDuration
	res.PayloadBytes = len(cfg.payload)

	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			exitErr(err)
		}

		return
	}

	fmt.Printf(
		"RESULT driver=%s records=%d duration=%s throughput=%.0f/s workers=%d batch=%d "+
			"retries=%d p50=%.1fms p99=%.1fms\n",
		res.Driver,
		res.Records,
		res.RunDuration,
		res.Throughput,
		res.Workers,
		res.BatchSize,
		res.Retries,
		res.LatencyP50Ms,
		res.LatencyP99Ms,
	)
}

func openStore(cfg benchConfig, dsn string) (*sql.DB, benchStore, error) {
	retry := backoff.Exponential{Base: retryBackoff, Max: retryBackoff}

	switch cfg.driver {
	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		store, err := mysql.NewOutboxStore(db, mysql.WithTable(cfg.table), mysql.WithBackoff(retry))
		if err != nil {
			_ = db.Close()

			return nil, nil, err
		}

		return db, store, nil
	case "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		store, err := postgres.NewOutboxStore(db, postgres.WithTable(cfg.table), postgres.WithBackoff(retry))
		if err != nil {
			_ = db.Close()

			return nil, nil, err
		}

		return db, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", errUnsupportedDriver, cfg.driver)
	}
}

func resetTable(ctx context.Context, db *sql.DB, cfg benchConfig) error {
	var (
		ddl string
		err error
	)
	switch cfg.driver {
	case "postgres":
		ddl, err = postgres.OutboxSchema(cfg.table)
	default:
		ddl, err = mysql.OutboxSchema(cfg.table)
	}
	if err != nil {
		return err
	}

	// Table name was validated by the schema builder.
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+cfg.table); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	return nil
}

func seedEntries(ctx context.Context, db *sql.DB, store benchStore, cfg benchConfig) error {
	batch := max(1, cfg.seedBatchSize)
	inserted := 0
	for inserted < cfg.records {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("seed entries: begin failed: %w", err)
		}
		for i := 0; i < batch && inserted < cfg.records; i++ {
			entry := outbox.Entry{ActionType: outbox.ActionSchedule, Payload: cfg.payload}
			if _, err := store.Enqueue(ctx, tx, entry); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("seed entries: enqueue failed: %w", err)
			}
			inserted++
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("seed entries: commit failed: %w", err)
		}
	}

	return nil
}

// drain runs the dispatcher until cfg.records entries are processed.
func drain(ctx context.Context, claimer outbox.Claimer, cfg benchConfig, logger *zaplog.Logger) (result, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.WithoutCancel(ctx)) }()

	metrics, err := otelmetrics.New(provider.Meter("reliable-bench"))
	if err != nil {
		return result{}, err
	}

	latency := newLatencyStats()
	handler := newBenchHandler(cfg.failEvery, latency)
	counted := &countingClaimer{Claimer: claimer}
	dispatcher := outbox.NewDispatcher(counted, handler,
		outbox.WithWorkers(cfg.workers),
		outbox.WithBatchSize(cfg.batchSize),
		outbox.WithPollInterval(defaultPollInterval),
		outbox.WithMetrics(metrics),
		outbox.WithLogger(logger),
	)

	runCtx, cancel := context.WithTimeout(ctx, cfg.drainTimeout)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	done := make(chan struct{})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		defer close(done)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()
		lastLog := time.Now()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			processed := counted.processed.Load()
			if processed >= int64(cfg.records) {
				cancel()

				return nil
			}
			if cfg.progressInterval > 0 && time.Since(lastLog) >= cfg.progressInterval {
				logger.Info("progress", "processed", processed, "target", cfg.records)
				lastLog = time.Now()
			}
		}
	})
	err = g.Wait()
	<-done
	elapsed := time.Since(start)

	processed := counted.processed.Load()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return result{}, err
	}
	if processed < int64(cfg.records) {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result{}, fmt.Errorf("%w: processed %d of %d", errDrainTimeout, processed, cfg.records)
		}

		return result{}, fmt.Errorf("%w: processed %d of %d", errProcessedMismatch, processed, cfg.records)
	}

	res := result{
		Driver:      cfg.driver,
		Records:     cfg.records,
		Workers:     cfg.workers,
		BatchSize:   cfg.batchSize,
		FailEvery:   cfg.failEvery,
		RunDuration: elapsed,
		Throughput:  float64(processed) / elapsed.Seconds(),
	}
	if err := collectMetrics(ctx, reader, &res); err != nil {
		return result{}, err
	}
	latency.fill(&res)

	return res, nil
}

func collectMetrics(ctx context.Context, reader *sdkmetric.ManualReader, res *result) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				switch m.Name {
				case "reliable.outbox.claimed":
					res.Claimed = total
				case "reliable.outbox.processed":
					res.Processed = total
				case "reliable.outbox.retries":
					res.Retries = total
				case "reliable.outbox.failed":
					res.Failed = total
				case "reliable.outbox.stale":
					res.Stale = total
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					res.Batches += dp.Count
					if dp.Count > 0 {
						res.BatchMeanMs = dp.Sum / float64(dp.Count) * 1000
					}
				}
			}
		}
	}

	return nil
}

// countingClaimer counts acknowledgements that completed an entry.
type countingClaimer struct {
	outbox.Claimer
	processed atomic.Int64
}

func (c *countingClaimer) Ack(ctx context.Context, ack outbox.Ack) (outbox.Status, error) {
	status, err := c.Claimer.Ack(ctx, ack)
	if err == nil && status == outbox.StatusProcessed {
		c.processed.Add(1)
	}

	return status, err
}

// benchHandler accepts every entry and optionally fails first attempts.
type benchHandler struct {
	failEvery int
	seen      atomic.Int64
	latency   *latencyStats
}

func newBenchHandler(failEvery int, latency *latencyStats) *benchHandler {
	return &benchHandler{failEvery: failEvery, latency: latency}
}

func (h *benchHandler) Handle(_ context.Context, record outbox.Record) error {
	if h.failEvery > 0 && record.AttemptedCount == 1 {
		if n := h.seen.Add(1); n%int64(h.failEvery) == 0 {
			return errSimulatedTransient
		}
	}
	if !record.CreatedAt.IsZero() {
		h.latency.Record(time.Since(record.CreatedAt))
	}

	return nil
}

type latencyStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func newLatencyStats() *latencyStats {
	return &latencyStats{}
}

func (l *latencyStats) Record(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencyStats) fill(res *result) {
	l.mu.Lock()
	samples := slices.Clone(l.samples)
	l.mu.Unlock()

	slices.Sort(samples)
	res.LatencySamples = len(samples)
	res.LatencyP50Ms = msFloat(percentile(samples, percentileP50))
	res.LatencyP95Ms = msFloat(percentile(samples, percentileP95))
	res.LatencyP99Ms = msFloat(percentile(samples, percentileP99))
	if len(samples) > 0 {
		res.LatencyMaxMs = msFloat(samples[len(samples)-1])
	}
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func buildPayload(size int, random bool, rng *rand.Rand) []byte {
	if size <= 0 {
		return []byte(`{"data":""}`)
	}
	dataSize := max(0, size-len(`{"data":""}`))
	data := make([]byte, dataSize)
	if random {
		if rng == nil {
			// #nosec G404 -- deterministic RNG for benchmark payloads.
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for i := range data {
			data[i] = alphabet[rng.Intn(len(alphabet))]
		}
	} else {
		for i := range data {
			data[i] = 'a'
		}
	}

	return []byte(fmt.Sprintf(`{"data":%q}`, string(data)))
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
