// Package upsert implements the bulk upsert engine: validated, batched,
// transactional persistence of Asset records with per-batch retry and
// per-row fallback.
package upsert

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/logging"
	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/store"
	"github.com/rs/zerolog"
)

// ErrCancelled is returned by BulkUpsert when ctx is cancelled at a batch
// boundary, distinguishing cancellation from an ordinary persistence
// failure so callers can report it as such. A batch already inside its
// transactional merge is allowed to commit.
var ErrCancelled = errors.New("bulk upsert cancelled")

// batcher is the subset of *store.Store the engine depends on, so tests
// can substitute a fake that injects transient failures.
type batcher interface {
	UpsertBatch(ctx context.Context, assets []asset.Asset) (store.UpsertResult, error)
}

// Config tunes batching and retry behavior.
type Config struct {
	BatchSize     int           // rows per transactional merge
	MaxRetries    int           // whole-batch attempts before per-row fallback
	BackoffBase   time.Duration // first retry delay, doubled per attempt
	ValidationMax int           // symbol length cap before a row is rejected
}

// DefaultConfig returns the production defaults: batches of 500, 3
// attempts, 1s backoff base.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		MaxRetries:    3,
		BackoffBase:   time.Second,
		ValidationMax: 32,
	}
}

// Engine drives validation, batching, retry, and fallback.
type Engine struct {
	store   batcher
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	sleep   func(time.Duration) // overridable in tests
}

// New builds a Bulk Upsert Engine over store s.
func New(s batcher, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{store: s, cfg: cfg, metrics: m, logger: logger, sleep: time.Sleep}
}

// Result summarizes one bulkUpsert call.
type Result struct {
	Created          int
	Updated          int
	ValidationErrors int
	FallbackErrors   int
	BatchesProcessed int
	BatchesRetried   int
	BatchesFellBack  int
}

// ProgressFunc is invoked after each batch commits (or falls back),
// reporting rows processed so far against the validated total.
type ProgressFunc func(processed, total int)

// BulkUpsert validates, batches, and persists records, invoking onProgress
// after each batch. It never returns an error for partial row failures;
// those are tallied in Result.ValidationErrors/FallbackErrors.
func (e *Engine) BulkUpsert(ctx context.Context, records []asset.Asset, onProgress ProgressFunc) (Result, error) {
	var res Result

	valid := make([]asset.Asset, 0, len(records))
	for _, r := range records {
		sanitized, ok := e.sanitize(r)
		if !ok {
			res.ValidationErrors++
			continue
		}
		valid = append(valid, sanitized)
	}

	total := len(valid)
	processed := 0

	for start := 0; start < total; start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			return res, ErrCancelled
		}

		end := start + e.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := valid[start:end]

		created, updated, fellBack, retried, fallbackErrs := e.commitBatch(ctx, batch)
		res.Created += created
		res.Updated += updated
		res.FallbackErrors += fallbackErrs
		res.BatchesProcessed++
		if retried {
			res.BatchesRetried++
		}
		if fellBack {
			res.BatchesFellBack++
		}

		processed = end
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	return res, nil
}

// commitBatch attempts the whole-batch primitive up to cfg.MaxRetries times
// with exponential backoff, falling back to per-row upserts on final
// failure. Per-row failures are counted, never fatal.
func (e *Engine) commitBatch(ctx context.Context, batch []asset.Asset) (created, updated int, fellBack, retried bool, fallbackErrs int) {
	batchStart := time.Now()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		res, err := e.store.UpsertBatch(ctx, batch)
		if err == nil {
			if e.metrics != nil {
				e.metrics.BulkUpsertBatches.Inc()
				e.reportThroughput(len(batch), batchStart)
			}
			return res.Created, res.Updated, false, attempt > 1, 0
		}
		lastErr = err
		retried = true
		if e.metrics != nil {
			e.metrics.BulkUpsertRetries.Inc()
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Int("batchSize", len(batch)).
			Msg("bulk upsert batch failed, retrying")

		if attempt < e.cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * e.cfg.BackoffBase
			e.sleep(backoff)
		}
	}

	logging.LogErrorWithStack(e.logger, lastErr, "bulk upsert batch exhausted retries, falling back to per-row upsert", map[string]any{
		"batchSize": len(batch),
	})
	if e.metrics != nil {
		e.metrics.BulkUpsertFallbacks.Inc()
	}

	fallbackStart := time.Now()
	for _, a := range batch {
		res, err := e.store.UpsertBatch(ctx, []asset.Asset{a})
		if err != nil {
			fallbackErrs++
			e.logger.Error().Err(err).Str("symbol", a.Symbol).Msg("per-row upsert fallback failed")
			continue
		}
		created += res.Created
		updated += res.Updated
	}
	if e.metrics != nil {
		e.reportThroughput(len(batch)-fallbackErrs, fallbackStart)
	}
	return created, updated, true, true, fallbackErrs
}

// reportThroughput records the most recently observed commit rate on the
// bulk_upsert_rows_per_second gauge.
func (e *Engine) reportThroughput(rows int, since time.Time) {
	elapsed := time.Since(since).Seconds()
	if elapsed <= 0 {
		return
	}
	e.metrics.BulkUpsertRowsPerSec.Set(float64(rows) / elapsed)
}

// sanitize coerces non-finite numerics to their defaults and normalizes
// the symbol, rejecting rows that remain invalid.
func (e *Engine) sanitize(a asset.Asset) (asset.Asset, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
	if symbol == "" || len(symbol) > e.cfg.ValidationMax {
		return asset.Asset{}, false
	}
	a.Symbol = symbol

	a.MinQty = asset.Finite(a.MinQty, 0)
	a.MaxQty = asset.Finite(a.MaxQty, 999999999)
	a.TickSize = asset.Finite(a.TickSize, 0.0001)
	a.StepSize = asset.Finite(a.StepSize, 0.001)
	a.MaxLeverage = asset.Finite(a.MaxLeverage, 100)
	a.MaintMarginRate = asset.Finite(a.MaintMarginRate, 0)
	a.LastPrice = asset.Finite(a.LastPrice, 0)
	a.PriceChangePercent = asset.Finite(a.PriceChangePercent, 0)
	a.BaseVolume24h = asset.Finite(a.BaseVolume24h, 0)
	a.QuoteVolume24h = asset.Finite(a.QuoteVolume24h, 0)
	a.HighPrice24h = asset.Finite(a.HighPrice24h, 0)
	a.LowPrice24h = asset.Finite(a.LowPrice24h, 0)
	a.OpenInterest = asset.Finite(a.OpenInterest, 0)

	if a.Status == "" {
		a.Status = asset.StatusUnknown
	}

	return a, true
}
