// Package metrics exposes the Prometheus collectors for every subsystem in
// the refresh pipeline. Collectors are instance fields registered against
// an injected registerer rather than package-level globals in an init(),
// so tests can construct a dedicated Metrics bound to their own registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the refresh pipeline reports.
type Metrics struct {
	RefreshesStarted   prometheus.Counter
	RefreshesCompleted prometheus.Counter
	RefreshesAborted   *prometheus.CounterVec // labeled by reason

	ContractsFetched   prometheus.Counter
	TickersFetched     prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	AssetsCreated      prometheus.Counter
	AssetsUpdated      prometheus.Counter
	AssetsErrored      prometheus.Counter
	WithoutMarketData  prometheus.Counter
	RefreshDurationSec prometheus.Histogram

	RateGovernorAdmitted  *prometheus.CounterVec // labeled by category
	RateGovernorSuspended *prometheus.CounterVec
	RateGovernorWaitSec   *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec // labeled by category

	ExchangeCallsTotal   *prometheus.CounterVec // labeled by operation, outcome
	ExchangeResponseTime *prometheus.HistogramVec

	BulkUpsertBatches    prometheus.Counter
	BulkUpsertRetries    prometheus.Counter
	BulkUpsertFallbacks  prometheus.Counter
	BulkUpsertRowsPerSec prometheus.Gauge

	ProgressSinksActive   prometheus.Gauge
	ProgressWritesDropped prometheus.Counter

	ProcessCPUPercent prometheus.Gauge
	ProcessMemoryMB   prometheus.Gauge
	Goroutines        prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_started_total",
			Help: "Total number of refresh sessions started.",
		}),
		RefreshesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_completed_total",
			Help: "Total number of refresh sessions that reached completion.",
		}),
		RefreshesAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refresh_aborted_total",
			Help: "Total number of refresh sessions aborted, labeled by reason.",
		}, []string{"reason"}),
		ContractsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_contracts_fetched_total",
			Help: "Total contracts fetched from the exchange symbols endpoint.",
		}),
		TickersFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_tickers_fetched_total",
			Help: "Total tickers fetched from the exchange tickers endpoint.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_duplicate_contracts_total",
			Help: "Total duplicate contract symbols discarded during deduplication.",
		}),
		AssetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_assets_created_total",
			Help: "Total asset rows newly inserted.",
		}),
		AssetsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_assets_updated_total",
			Help: "Total asset rows updated in place.",
		}),
		AssetsErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_assets_errored_total",
			Help: "Total asset rows that failed validation or upsert.",
		}),
		WithoutMarketData: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refresh_assets_without_market_data_total",
			Help: "Total contracts persisted without a matching ticker.",
		}),
		RefreshDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refresh_duration_seconds",
			Help:    "Wall-clock duration of a refresh session.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		RateGovernorAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_governor_admitted_total",
			Help: "Total calls admitted by the rate governor, labeled by category.",
		}, []string{"category"}),
		RateGovernorSuspended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_governor_suspended_total",
			Help: "Total calls rejected because the governor is in a suspended (rate-limited) state.",
		}, []string{"category"}),
		RateGovernorWaitSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_governor_wait_seconds",
			Help:    "Time a caller waited in the admission queue before being released.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per category (0=closed, 1=open, 2=half_open).",
		}, []string{"category"}),
		ExchangeCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_calls_total",
			Help: "Total exchange API calls, labeled by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ExchangeResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_response_seconds",
			Help:    "Exchange API response time, labeled by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BulkUpsertBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_upsert_batches_total",
			Help: "Total batches committed by the bulk upsert engine.",
		}),
		BulkUpsertRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_upsert_retries_total",
			Help: "Total batch retry attempts.",
		}),
		BulkUpsertFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_upsert_fallbacks_total",
			Help: "Total batches that fell back to per-row upsert after exhausting retries.",
		}),
		BulkUpsertRowsPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulk_upsert_rows_per_second",
			Help: "Most recently observed bulk upsert throughput.",
		}),
		ProgressSinksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_sinks_active",
			Help: "Number of currently subscribed progress stream sinks.",
		}),
		ProgressWritesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_writes_dropped_total",
			Help: "Total progress events dropped because a sink's queue was full.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "process_cpu_percent",
			Help: "Most recently sampled process CPU usage percentage.",
		}),
		ProcessMemoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "process_memory_mb",
			Help: "Most recently sampled process resident memory in megabytes.",
		}),
		Goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "process_goroutines",
			Help: "Current goroutine count.",
		}),
	}

	reg.MustRegister(
		m.RefreshesStarted, m.RefreshesCompleted, m.RefreshesAborted,
		m.ContractsFetched, m.TickersFetched, m.DuplicatesSkipped,
		m.AssetsCreated, m.AssetsUpdated, m.AssetsErrored, m.WithoutMarketData,
		m.RefreshDurationSec,
		m.RateGovernorAdmitted, m.RateGovernorSuspended, m.RateGovernorWaitSec,
		m.CircuitBreakerState,
		m.ExchangeCallsTotal, m.ExchangeResponseTime,
		m.BulkUpsertBatches, m.BulkUpsertRetries, m.BulkUpsertFallbacks, m.BulkUpsertRowsPerSec,
		m.ProgressSinksActive, m.ProgressWritesDropped,
		m.ProcessCPUPercent, m.ProcessMemoryMB, m.Goroutines,
	)

	return m
}
