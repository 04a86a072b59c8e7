// Package refresh implements the refresh orchestrator: the end-to-end
// full and delta refresh control flow, driving the exchange client, the
// bulk upsert engine, and the progress stream hub.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/exchange"
	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/progress"
	"github.com/adred-codev/bingx-refresh/internal/upsert"
	"github.com/rs/zerolog"
)

// exchangeClient is the subset of *exchange.Client the orchestrator needs,
// narrowed so tests can substitute a fake.
type exchangeClient interface {
	GetSymbolsAndTickers(ctx context.Context) (exchange.SymbolsAndTickers, error)
	GetSymbols(ctx context.Context) ([]asset.Contract, error)
	GetAllTickers(ctx context.Context) ([]asset.Ticker, error)
}

// assetStore is the subset of *store.Store the orchestrator needs.
type assetStore interface {
	MaxUpdatedAt(ctx context.Context) (time.Time, error)
	UpdateMarketDataBySymbol(ctx context.Context, tickers []asset.Ticker) (int, error)
}

// bulkUpserter is the subset of *upsert.Engine the orchestrator needs.
type bulkUpserter interface {
	BulkUpsert(ctx context.Context, records []asset.Asset, onProgress upsert.ProgressFunc) (upsert.Result, error)
}

// responseCache is the subset of *ratelimit.ResponseCache the orchestrator
// needs, invalidated at the start of every full refresh.
type responseCache interface {
	InvalidateAll()
}

// Config tunes the transform stage's fan-out and the delta/full decision.
type Config struct {
	TransformBatchSize   int           // contracts per transform batch
	TransformConcurrency int           // transform batches in flight at once
	DeltaFreshnessWindow time.Duration // store freshness cutoff for the delta path
}

// DefaultConfig returns the production defaults: batches of 100, 5
// concurrent, a 1 hour delta window.
func DefaultConfig() Config {
	return Config{TransformBatchSize: 100, TransformConcurrency: 5, DeltaFreshnessWindow: time.Hour}
}

// Orchestrator drives one refresh at a time end to end.
type Orchestrator struct {
	exchange exchangeClient
	store    assetStore
	upsert   bulkUpserter
	cache    responseCache
	hub      *progress.Hub
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cfg      Config

	mu      sync.Mutex
	running bool
}

// New builds an Orchestrator over its collaborators. cache may be nil if no
// response cache is in use.
func New(ex exchangeClient, st assetStore, up bulkUpserter, cache responseCache, hub *progress.Hub, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{exchange: ex, store: st, upsert: up, cache: cache, hub: hub, metrics: m, logger: logger, cfg: cfg}
}

// Summary is the final tally returned to the HTTP caller and mirrored in
// the "completed" progress event.
type Summary struct {
	SessionID         string
	Created           int
	Updated           int
	Total             int
	Processed         int
	Errors            int
	WithoutMarketData int
	DeltaMode         string
	Warning           bool
	DurationMs        int64
}

// ErrRateLimited is returned when the fetch stage aborts because the
// exchange client reports a rate-limit condition.
type ErrRateLimited struct {
	RecoverySeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("refresh aborted: rate limited, retry in %ds", e.RecoverySeconds)
}

// ErrNoContracts is returned when the exchange reports success but zero
// contracts. Fatal: the refresh stops before persisting anything, so the
// store is left untouched.
var ErrNoContracts = fmt.Errorf("refresh aborted: exchange returned zero contracts")

// RunFull executes the full refresh pipeline (initialize, fetch,
// deduplicate, transform, persist, finalize), blocking until completion,
// emitting progress events to sessionID's hub subscription as it goes.
func (o *Orchestrator) RunFull(ctx context.Context, sessionID string) (Summary, error) {
	if !o.acquireRunSlot() {
		return Summary{}, fmt.Errorf("a refresh is already running")
	}
	defer o.releaseRunSlot()

	start := time.Now()
	if o.metrics != nil {
		o.metrics.RefreshesStarted.Inc()
	}
	o.logger.Info().Str("sessionId", sessionID).Msg("full refresh starting")

	summary, err := o.runFull(ctx, sessionID, start)
	o.finish(sessionID, summary, err, start)
	return summary, err
}

func (o *Orchestrator) runFull(ctx context.Context, sessionID string, start time.Time) (Summary, error) {
	summary := Summary{SessionID: sessionID}

	// Stage 1: Initialize (0-5%). Invalidate cached responses so the fetch
	// stage never serves stale data for this refresh.
	if o.cache != nil {
		o.cache.InvalidateAll()
	}
	o.publish(sessionID, progress.Event{Type: "progress", SessionID: sessionID, Message: "starting", Progress: 0})
	if err := o.checkCancel(ctx, sessionID); err != nil {
		return summary, err
	}

	// Stage 2: Fetch (5-45%).
	o.publish(sessionID, progress.Event{Type: "progress", SessionID: sessionID, Message: "fetching symbols and tickers", Progress: 5})
	contracts, tickers, warning, err := o.fetch(ctx)
	if err != nil {
		if rl, ok := err.(*exchange.APIError); ok && rl.Kind == exchange.KindRateLimit {
			o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: err.Error(), RecoverySeconds: rl.RetryAfterSecs})
			if o.metrics != nil {
				o.metrics.RefreshesAborted.WithLabelValues("rate_limit").Inc()
			}
			return summary, &ErrRateLimited{RecoverySeconds: rl.RetryAfterSecs}
		}
		o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: err.Error()})
		if o.metrics != nil {
			o.metrics.RefreshesAborted.WithLabelValues("fetch_failed").Inc()
		}
		return summary, err
	}
	summary.Warning = warning
	if o.metrics != nil {
		o.metrics.ContractsFetched.Add(float64(len(contracts)))
		o.metrics.TickersFetched.Add(float64(len(tickers)))
	}
	if len(contracts) == 0 {
		o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: ErrNoContracts.Error()})
		if o.metrics != nil {
			o.metrics.RefreshesAborted.WithLabelValues("no_contracts").Inc()
		}
		return summary, ErrNoContracts
	}
	if err := o.checkCancel(ctx, sessionID); err != nil {
		return summary, err
	}

	// Stage 3: Deduplicate (45-55%).
	o.publish(sessionID, progress.Event{Type: "progress", SessionID: sessionID, Message: "deduplicating", Progress: 45})
	deduped, duplicates := dedupeContracts(contracts)
	if o.metrics != nil {
		o.metrics.DuplicatesSkipped.Add(float64(duplicates))
	}
	if err := o.checkCancel(ctx, sessionID); err != nil {
		return summary, err
	}

	// Stage 4: Transform & Enrich (55-75%).
	tickerIndex := indexTickers(tickers)
	assets, withoutMarketData, err := o.transform(ctx, sessionID, deduped, tickerIndex)
	if err != nil {
		return summary, err
	}
	summary.WithoutMarketData = withoutMarketData
	if o.metrics != nil {
		o.metrics.WithoutMarketData.Add(float64(withoutMarketData))
	}

	// Stage 5: Bulk Persist (75-98%).
	o.publish(sessionID, progress.Event{Type: "progress", SessionID: sessionID, Message: "persisting", Progress: 75, Total: len(assets)})
	upsertResult, err := o.upsert.BulkUpsert(ctx, assets, func(processed, total int) {
		pct := 75 + (float64(processed)/float64(max(total, 1)))*23
		o.publish(sessionID, progress.Event{
			Type: "progress", SessionID: sessionID, Message: "persisting batch",
			Progress: pct, Processed: processed, Total: total,
		})
	})
	if err != nil {
		if errors.Is(err, upsert.ErrCancelled) {
			return summary, &cancelledError{}
		}
		o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: err.Error()})
		if o.metrics != nil {
			o.metrics.RefreshesAborted.WithLabelValues("persist_failed").Inc()
		}
		return summary, err
	}

	summary.Created = upsertResult.Created
	summary.Updated = upsertResult.Updated
	summary.Errors = upsertResult.ValidationErrors + upsertResult.FallbackErrors
	summary.Total = len(deduped)
	summary.Processed = len(assets)
	if o.metrics != nil {
		o.metrics.AssetsCreated.Add(float64(upsertResult.Created))
		o.metrics.AssetsUpdated.Add(float64(upsertResult.Updated))
		o.metrics.AssetsErrored.Add(float64(summary.Errors))
	}

	return summary, nil
}

// RunDelta executes the reduced market-data-only path when the store's
// freshest row is within the configured window, otherwise falls through to
// a full refresh under the same session id.
func (o *Orchestrator) RunDelta(ctx context.Context, sessionID string) (Summary, error) {
	maxUpdated, err := o.store.MaxUpdatedAt(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to check store freshness: %w", err)
	}
	if maxUpdated.IsZero() || time.Since(maxUpdated) > o.cfg.DeltaFreshnessWindow {
		return o.RunFull(ctx, sessionID)
	}

	if !o.acquireRunSlot() {
		return Summary{}, fmt.Errorf("a refresh is already running")
	}
	defer o.releaseRunSlot()

	start := time.Now()
	o.logger.Info().Str("sessionId", sessionID).Msg("delta refresh starting")
	o.publish(sessionID, progress.Event{Type: "progress", SessionID: sessionID, Message: "fetching tickers", Progress: 10, DeltaMode: "MARKET_DATA_ONLY"})

	tickers, err := o.exchange.GetAllTickers(ctx)
	if err != nil {
		o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: err.Error()})
		o.closeSink(sessionID)
		return Summary{}, err
	}
	if o.metrics != nil {
		o.metrics.TickersFetched.Add(float64(len(tickers)))
	}

	updated, err := o.store.UpdateMarketDataBySymbol(ctx, tickers)
	if err != nil {
		o.publish(sessionID, progress.Event{Type: "error", SessionID: sessionID, Message: err.Error()})
	}
	summary := Summary{SessionID: sessionID, Updated: updated, Total: len(tickers), Processed: len(tickers), DeltaMode: "MARKET_DATA_ONLY"}
	o.finish(sessionID, summary, err, start)
	return summary, err
}

// finish publishes the terminal event for the session and closes its
// progress sink; the error-typed events for failed runs were already
// published at the failing stage.
func (o *Orchestrator) finish(sessionID string, summary Summary, err error, start time.Time) {
	defer o.closeSink(sessionID)

	summary.DurationMs = time.Since(start).Milliseconds()
	if o.metrics != nil {
		o.metrics.RefreshDurationSec.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if _, cancelled := err.(*cancelledError); cancelled {
			o.publish(sessionID, progress.Event{Type: "cancelled", SessionID: sessionID})
			o.logger.Info().Str("sessionId", sessionID).Msg("refresh cancelled")
		}
		return
	}

	if o.metrics != nil {
		o.metrics.RefreshesCompleted.Inc()
	}
	o.publish(sessionID, progress.Event{
		Type: "completed", SessionID: sessionID,
		Created: summary.Created, Updated: summary.Updated, Errors: summary.Errors,
		Total: summary.Total, Processed: summary.Processed, DurationMs: summary.DurationMs,
		DeltaMode: summary.DeltaMode,
	})
	o.logger.Info().Str("sessionId", sessionID).
		Int("created", summary.Created).Int("updated", summary.Updated).
		Int64("durationMs", summary.DurationMs).Msg("refresh completed")
}

func (o *Orchestrator) publish(sessionID string, ev progress.Event) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(sessionID, ev)
}

func (o *Orchestrator) closeSink(sessionID string) {
	if o.hub == nil {
		return
	}
	o.hub.Close(sessionID)
}

type cancelledError struct{}

func (*cancelledError) Error() string { return "refresh cancelled" }

func (o *Orchestrator) checkCancel(ctx context.Context, sessionID string) error {
	if ctx.Err() != nil {
		return &cancelledError{}
	}
	return nil
}

func (o *Orchestrator) acquireRunSlot() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) releaseRunSlot() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
