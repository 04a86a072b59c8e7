package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrRateLimited is returned by Acquire while the governor is in a
// recovery window, carrying the seconds remaining before it clears.
type ErrRateLimited struct {
	RecoverySeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit active, recovery in %ds", e.RecoverySeconds)
}

// ErrCircuitOpen is returned when a category's circuit breaker is OPEN.
type ErrCircuitOpen struct {
	Category Category
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for category %s", e.Category)
}

// GovernorConfig bundles the two bucket configs, the breaker thresholds,
// and the dev-mode recovery multiplier.
type GovernorConfig struct {
	Market      BucketConfig
	Account     BucketConfig
	DevMode     bool
	CacheSize   int
	Breaker     BreakerConfig
	MinRecovery time.Duration // floor on the recovery window; 10s when zero
}

// DefaultGovernorConfig returns defaults calibrated to the exchange's
// published per-IP quotas.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		Market: BucketConfig{
			Capacity:              95,
			RefillInterval:        10 * time.Second,
			MinSpacing:            105 * time.Millisecond,
			MaxConcurrentInFlight: 2,
		},
		Account: BucketConfig{
			Capacity:              950,
			RefillInterval:        10 * time.Second,
			MinSpacing:            12 * time.Millisecond,
			MaxConcurrentInFlight: 3,
		},
		Breaker:     DefaultBreakerConfig(),
		CacheSize:   1000,
		MinRecovery: 10 * time.Second,
	}
}

// Governor is the Rate Governor: admission control for outbound exchange
// calls, with a global rate-limited recovery flag shared by both buckets.
type Governor struct {
	cfg     GovernorConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	market  *bucket
	account *bucket

	marketBreaker  *CircuitBreaker
	accountBreaker *CircuitBreaker

	cache *ResponseCache

	mu               sync.Mutex
	rateLimited      bool
	recoveryDeadline time.Time
	recoveryTimer    *time.Timer
	recoveryJitter   func(time.Duration) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Governor and starts its refill loops. Call Stop to
// release resources. m may be nil in tests that don't assert on metrics.
func New(cfg GovernorConfig, logger zerolog.Logger, m *metrics.Metrics) *Governor {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Governor{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		market:         newBucket(cfg.Market),
		account:        newBucket(cfg.Account),
		marketBreaker:  NewCircuitBreaker(cfg.Breaker),
		accountBreaker: NewCircuitBreaker(cfg.Breaker),
		cache:          NewResponseCache(cfg.CacheSize),
		ctx:            ctx,
		cancel:         cancel,
	}
	g.market.startRefillLoop(ctx)
	g.account.startRefillLoop(ctx)
	return g
}

// SetRecoveryJitter installs a function that scales the recovery window's
// delay under system pressure; sysmon.Monitor's RecoveryJitter is the
// production implementation. Optional. If never called, TriggerRateLimit
// uses retryAfter (post dev-mode multiplier) unmodified.
func (g *Governor) SetRecoveryJitter(fn func(time.Duration) time.Duration) {
	g.mu.Lock()
	g.recoveryJitter = fn
	g.mu.Unlock()
}

// Stop drains timers and background loops.
func (g *Governor) Stop() {
	g.mu.Lock()
	if g.recoveryTimer != nil {
		g.recoveryTimer.Stop()
	}
	g.mu.Unlock()
	g.cancel()
}

func (g *Governor) bucketFor(cat Category) *bucket {
	if cat == CategoryAccount {
		return g.account
	}
	return g.market
}

func (g *Governor) breakerFor(cat Category) *CircuitBreaker {
	if cat == CategoryAccount {
		return g.accountBreaker
	}
	return g.marketBreaker
}

// Release is returned by Acquire; the caller must invoke it exactly once
// after the guarded call completes, reporting whether it succeeded so the
// circuit breaker can update its failure count.
type Release func(success bool)

// Acquire admits a call in the given category and priority. It blocks
// (respecting ctx) until a token is available, unless the governor is
// currently in a rate-limited recovery window or the category's circuit
// breaker is open, in which case it fails fast.
func (g *Governor) Acquire(ctx context.Context, cat Category, priority Priority) (Release, error) {
	g.mu.Lock()
	if g.rateLimited {
		remaining := int(time.Until(g.recoveryDeadline).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		g.mu.Unlock()
		g.recordSuspended(cat)
		return nil, &ErrRateLimited{RecoverySeconds: remaining}
	}
	g.mu.Unlock()

	breaker := g.breakerFor(cat)
	if !breaker.Allow() {
		g.recordSuspended(cat)
		return nil, &ErrCircuitOpen{Category: cat}
	}

	b := g.bucketFor(cat)
	waitStart := time.Now()
	release, err := b.acquire(ctx, priority)
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.RateGovernorAdmitted.WithLabelValues(string(cat)).Inc()
		g.metrics.RateGovernorWaitSec.WithLabelValues(string(cat)).Observe(time.Since(waitStart).Seconds())
	}

	return func(success bool) {
		release()
		if success {
			breaker.RecordSuccess()
		} else {
			breaker.RecordFailure()
		}
		g.recordBreakerState(cat, breaker.State())
	}, nil
}

func (g *Governor) recordSuspended(cat Category) {
	if g.metrics != nil {
		g.metrics.RateGovernorSuspended.WithLabelValues(string(cat)).Inc()
	}
}

func (g *Governor) recordBreakerState(cat Category, state BreakerState) {
	if g.metrics != nil {
		g.metrics.CircuitBreakerState.WithLabelValues(string(cat)).Set(float64(state))
	}
}

// Cache exposes the shared response cache to callers (e.g. the exchange
// client) that want to skip admission entirely on a cache hit.
func (g *Governor) Cache() *ResponseCache { return g.cache }

// TriggerRateLimit enters the global recovery window: sets the rateLimited
// flag, suspends both buckets, and schedules a single recovery task at the
// deadline. The window is never shorter than MinRecovery regardless of the
// upstream Retry-After value.
func (g *Governor) TriggerRateLimit(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	minRecovery := g.cfg.MinRecovery
	if minRecovery <= 0 {
		minRecovery = 10 * time.Second
	}
	if retryAfter < minRecovery {
		retryAfter = minRecovery
	}
	if g.cfg.DevMode {
		retryAfter = time.Duration(float64(retryAfter) * 1.2)
	}
	if g.recoveryJitter != nil {
		retryAfter = g.recoveryJitter(retryAfter)
	}

	g.rateLimited = true
	g.recoveryDeadline = time.Now().Add(retryAfter)

	g.market.suspend()
	g.account.suspend()

	if g.recoveryTimer != nil {
		g.recoveryTimer.Stop()
	}
	g.recoveryTimer = time.AfterFunc(retryAfter, g.recover)

	g.logger.Warn().
		Dur("retry_after", retryAfter).
		Time("recovery_deadline", g.recoveryDeadline).
		Msg("rate governor entering recovery window")
}

// recover clears the rateLimited flag, resets both buckets, and resets
// both circuit breakers.
func (g *Governor) recover() {
	g.mu.Lock()
	g.rateLimited = false
	g.mu.Unlock()

	g.market.resume()
	g.account.resume()
	g.marketBreaker.Reset()
	g.accountBreaker.Reset()

	g.logger.Info().Msg("rate governor recovery complete")
}

// IsRateLimited reports whether the global recovery window is active and,
// if so, the seconds remaining.
func (g *Governor) IsRateLimited() (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.rateLimited {
		return false, 0
	}
	remaining := int(math.Ceil(time.Until(g.recoveryDeadline).Seconds()))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

// BreakerState reports the current circuit breaker state for a category,
// for metrics/health reporting.
func (g *Governor) BreakerState(cat Category) BreakerState {
	return g.breakerFor(cat).State()
}

// AvailableTokens reports the current token count for a category, for
// tests and metrics.
func (g *Governor) AvailableTokens(cat Category) int {
	return g.bucketFor(cat).AvailableTokens()
}
