package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func testGovernor() *Governor {
	cfg := GovernorConfig{
		Market: BucketConfig{
			Capacity:              3,
			RefillInterval:        50 * time.Millisecond,
			MinSpacing:            0,
			MaxConcurrentInFlight: 3,
		},
		Account: BucketConfig{
			Capacity:              3,
			RefillInterval:        50 * time.Millisecond,
			MinSpacing:            0,
			MaxConcurrentInFlight: 3,
		},
		Breaker:     BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, OpenDuration: 50 * time.Millisecond},
		CacheSize:   10,
		MinRecovery: 10 * time.Millisecond,
	}
	return New(cfg, zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
}

func TestGovernorAdmitsWithinCapacity(t *testing.T) {
	g := testGovernor()
	defer g.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		release, err := g.Acquire(ctx, CategoryMarketData, PriorityMedium)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		release(true)
	}
}

func TestGovernorSuspendsOnRateLimit(t *testing.T) {
	g := testGovernor()
	defer g.Stop()

	g.TriggerRateLimit(20 * time.Millisecond)

	_, err := g.Acquire(context.Background(), CategoryMarketData, PriorityMedium)
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("expected ErrRateLimited, got %T", err)
	}

	time.Sleep(40 * time.Millisecond)

	release, err := g.Acquire(context.Background(), CategoryMarketData, PriorityMedium)
	if err != nil {
		t.Fatalf("expected recovery to clear suspension: %v", err)
	}
	release(true)
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: 20 * time.Millisecond})

	if !cb.Allow() {
		t.Fatal("expected closed breaker to allow")
	}
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerOpen {
		t.Fatalf("expected OPEN after threshold failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected OPEN breaker to reject")
	}

	time.Sleep(30 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected HALF_OPEN to allow a probe")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("expected CLOSED after success threshold, got %s", cb.State())
	}
}

func TestResponseCacheEviction(t *testing.T) {
	c := NewResponseCache(10)
	for i := 0; i < 15; i++ {
		c.Set(string(rune('a'+i)), i, time.Minute)
	}
	if len(c.entries) > 10 {
		t.Fatalf("expected eviction to keep size near max, got %d", len(c.entries))
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	c := NewResponseCache(10)
	c.Set("k", "v", 10*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected immediate hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCriticalPriorityAdmittedAfterRefill(t *testing.T) {
	g := testGovernor()
	defer g.Stop()

	ctx := context.Background()
	// Exhaust capacity so the next acquires queue.
	releases := make([]Release, 0, 3)
	for i := 0; i < 3; i++ {
		r, err := g.Acquire(ctx, CategoryAccount, PriorityLow)
		if err != nil {
			t.Fatalf("warm-up acquire: %v", err)
		}
		releases = append(releases, r)
	}
	for _, r := range releases {
		r(true)
	}

	// The bucket is empty, so this acquire queues until the next refill.
	// It only checks that a critical-priority waiter is admitted.
	_, err := g.Acquire(ctx, CategoryAccount, PriorityCritical)
	if err != nil {
		t.Fatalf("expected critical priority acquire to succeed: %v", err)
	}
}
