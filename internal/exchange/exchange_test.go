package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestSignDeterministic(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	params := url.Values{"symbol": []string{"BTC-USDT"}, "side": []string{"BUY"}}

	signed := sign(params, "secret", now)
	if signed.Get("timestamp") != "1700000000000" {
		t.Fatalf("unexpected timestamp: %s", signed.Get("timestamp"))
	}
	if signed.Get("signature") == "" {
		t.Fatal("expected non-empty signature")
	}

	again := sign(params, "secret", now)
	if signed.Get("signature") != again.Get("signature") {
		t.Fatal("expected deterministic signature for identical inputs")
	}

	diffSecret := sign(params, "other-secret", now)
	if signed.Get("signature") == diffSecret.Get("signature") {
		t.Fatal("expected different signature for different secret")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name         string
		httpStatus   int
		upstreamCode int
		body         string
		want         Kind
	}{
		{"http 429", 429, 0, "", KindRateLimit},
		{"upstream rate code", 200, 100001, "", KindRateLimit},
		{"rate limit text", 200, 0, "Rate limit exceeded", KindRateLimit},
		{"auth 401", 401, 0, "", KindAuth},
		{"invalid signature", 400, 0, "Invalid signature", KindAuth},
		{"server 500", 500, 0, "", KindServer},
		{"validation 400", 400, 0, "bad request", KindValidation},
	}
	for _, c := range cases {
		got := Classify(c.httpStatus, c.upstreamCode, c.body, nil)
		if got != c.want {
			t.Errorf("%s: Classify() = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestEndpointRanking(t *testing.T) {
	r := newEndpointRegistry()
	r.register("symbols", []string{"/v2/symbols", "/v1/symbols"})

	r.recordFailure("/v2/symbols")
	r.recordSuccess("/v1/symbols", 10*time.Millisecond)

	ranked := r.rank("symbols")
	if ranked[0] != "/v1/symbols" {
		t.Fatalf("expected /v1/symbols to rank first after a failure on /v2/symbols, got %v", ranked)
	}

	failed := r.snapshot("/v2/symbols")
	if failed.TotalCalls != 1 || failed.Failures != 1 || failed.SuccessRate != 0 {
		t.Fatalf("unexpected failure metric: %+v", failed)
	}
	succeeded := r.snapshot("/v1/symbols")
	if succeeded.TotalCalls != 1 || succeeded.SuccessRate != 100 || succeeded.AvgResponseTime != 10*time.Millisecond {
		t.Fatalf("unexpected success metric: %+v", succeeded)
	}
}

func TestDoRequestRetriesSameCandidateOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"symbol":"BTC-USDT"}}`))
	}))
	defer srv.Close()

	governor := ratelimit.New(ratelimit.DefaultGovernorConfig(), zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
	defer governor.Stop()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.EndpointSpacing = time.Millisecond
	c := New(cfg, governor, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	c.registry.register("test_op", []string{"/only"})

	var out struct {
		Symbol string `json:"symbol"`
	}
	spec := requestSpec{
		operation: "test_op", method: http.MethodGet, params: url.Values{},
		category: ratelimit.CategoryMarketData, priority: ratelimit.PriorityMedium,
		timeout: 2 * time.Second,
	}
	if err := c.doRequest(context.Background(), spec, &out); err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if out.Symbol != "BTC-USDT" {
		t.Fatalf("expected decoded symbol, got %+v", out)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts against the single candidate, got %d", got)
	}
}

func TestDoRequestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	governor := ratelimit.New(ratelimit.DefaultGovernorConfig(), zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
	defer governor.Stop()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.EndpointSpacing = time.Millisecond
	c := New(cfg, governor, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	c.registry.register("test_op", []string{"/only"})

	var out any
	spec := requestSpec{
		operation: "test_op", method: http.MethodGet, params: url.Values{},
		category: ratelimit.CategoryMarketData, priority: ratelimit.PriorityMedium,
		timeout: 2 * time.Second,
	}
	err := c.doRequest(context.Background(), spec, &out)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 attempts (market-data retry policy), got %d", got)
	}
}

func TestRateLimitResponseTriggersGovernorRecovery(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	governor := ratelimit.New(ratelimit.DefaultGovernorConfig(), zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
	defer governor.Stop()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.EndpointSpacing = time.Millisecond
	c := New(cfg, governor, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	c.registry.register("test_op", []string{"/only", "/alternate"})

	var out any
	spec := requestSpec{
		operation: "test_op", method: http.MethodGet, params: url.Values{},
		category: ratelimit.CategoryMarketData, priority: ratelimit.PriorityMedium,
		timeout: 2 * time.Second,
	}
	err := c.doRequest(context.Background(), spec, &out)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Kind != KindRateLimit {
		t.Fatalf("expected rate-limit APIError, got %v", err)
	}
	if apiErr.RetryAfterSecs != 30 {
		t.Fatalf("expected Retry-After 30 carried on the error, got %d", apiErr.RetryAfterSecs)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected no retry and no alternate on rate limit, got %d calls", got)
	}
	limited, secs := governor.IsRateLimited()
	if !limited || secs == 0 {
		t.Fatalf("expected governor recovery window active, limited=%v secs=%d", limited, secs)
	}
}

func TestRetryable(t *testing.T) {
	if retry, n := Retryable(KindNetwork, false); !retry || n != 3 {
		t.Fatalf("expected market-category network retry=3, got retry=%v n=%d", retry, n)
	}
	if retry, n := Retryable(KindNetwork, true); !retry || n != 5 {
		t.Fatalf("expected account-category network retry=5, got retry=%v n=%d", retry, n)
	}
	if retry, _ := Retryable(KindAuth, false); retry {
		t.Fatal("expected AUTH to never retry")
	}
}
