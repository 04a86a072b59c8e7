package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Config configures the Client.
type Config struct {
	BaseURL   string
	DemoURL   string
	DemoMode  bool
	APIKey    string
	SecretKey string

	SymbolsTimeout  time.Duration
	CombinedTimeout time.Duration

	// EndpointSpacing is the minimum delay observed between trying
	// successive candidate endpoints on a non-rate-limit failure.
	EndpointSpacing time.Duration
}

// DefaultConfig returns the production timeout and spacing defaults.
func DefaultConfig() Config {
	return Config{
		SymbolsTimeout:  15 * time.Second,
		CombinedTimeout: 20 * time.Second,
		EndpointSpacing: time.Second,
	}
}

// Client exposes typed operations over the exchange REST surface.
type Client struct {
	cfg      Config
	http     *http.Client
	governor *ratelimit.Governor
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	registry *endpointRegistry
}

// New constructs a Client with its candidate-endpoint tables registered.
func New(cfg Config, governor *ratelimit.Governor, m *metrics.Metrics, logger zerolog.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{},
		governor: governor,
		metrics:  m,
		logger:   logger,
		registry: newEndpointRegistry(),
	}

	c.registry.register("symbols", []string{"/openApi/swap/v2/quote/contracts", "/openApi/swap/v1/quote/contracts"})
	c.registry.register("tickers", []string{"/openApi/swap/v2/quote/ticker", "/openApi/swap/v1/quote/ticker"})
	c.registry.register("ticker", []string{"/openApi/swap/v2/quote/ticker"})
	c.registry.register("positions", []string{"/openApi/swap/v2/user/positions"})
	c.registry.register("balance", []string{"/openApi/swap/v2/user/balance"})
	c.registry.register("placeOrder", []string{"/openApi/swap/v2/trade/order"})
	c.registry.register("cancelOrder", []string{"/openApi/swap/v2/trade/order"})
	c.registry.register("klines", []string{"/openApi/swap/v2/quote/klines", "/openApi/swap/v1/quote/klines"})
	c.registry.register("depth", []string{"/openApi/swap/v2/quote/depth"})
	c.registry.register("startUserStream", []string{"/openApi/user/auth/userDataStream"})

	return c
}

func (c *Client) baseURL() string {
	if c.cfg.DemoMode && c.cfg.DemoURL != "" {
		return c.cfg.DemoURL
	}
	return c.cfg.BaseURL
}

// requestSpec describes one call through doRequest.
type requestSpec struct {
	operation string
	method    string
	params    url.Values
	private   bool
	category  ratelimit.Category
	priority  ratelimit.Priority
	timeout   time.Duration
	cacheTTL  time.Duration // zero disables caching
}

// doRequest selects the best-ranked candidate endpoint for spec.operation,
// runs it through the rate governor with same-candidate retry, falls to
// the next candidate after EndpointSpacing once retries on the current one
// are exhausted, and decodes the JSON envelope's Data field into out.
func (c *Client) doRequest(ctx context.Context, spec requestSpec, out any) error {
	cacheKey := spec.operation + "?" + spec.params.Encode()
	if spec.cacheTTL > 0 {
		if cached, ok := c.governor.Cache().Get(cacheKey); ok {
			return json.Unmarshal(cached.(json.RawMessage), out)
		}
	}

	candidates := c.registry.rank(spec.operation)
	if len(candidates) == 0 {
		return &APIError{Kind: KindUnknown, Message: fmt.Sprintf("no candidate endpoints for operation %q", spec.operation)}
	}

	var lastErr error
	for i, path := range candidates {
		if i > 0 {
			select {
			case <-time.After(c.cfg.EndpointSpacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		raw, err := c.attemptWithRetry(ctx, spec, path)
		if err == nil {
			if spec.cacheTTL > 0 {
				c.governor.Cache().Set(cacheKey, raw, spec.cacheTTL)
			}
			return json.Unmarshal(raw, out)
		}

		lastErr = err
		if apiErr, ok := err.(*APIError); ok && apiErr.Kind == KindRateLimit {
			// Do not attempt alternates on rate-limit; surface immediately
			// so the governor can drive recovery.
			return err
		}
	}
	return lastErr
}

// attemptWithRetry runs one candidate endpoint through attempt, repeating
// on the same candidate with exponential backoff and jitter when the
// failure kind is retryable per Retryable (network/server/unknown, with a
// larger attempt budget for account operations). Rate-limit failures and
// non-retryable kinds (auth/validation) return immediately so the caller
// can fall to the next candidate or abort.
func (c *Client) attemptWithRetry(ctx context.Context, spec requestSpec, path string) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		raw, err := c.attempt(ctx, spec, path)
		if err == nil {
			return raw, nil
		}

		apiErr, ok := err.(*APIError)
		if !ok || apiErr.Kind == KindRateLimit {
			return nil, err
		}

		retry, maxAttempts := Retryable(apiErr.Kind, spec.private)
		if !retry || attempt >= maxAttempts {
			return nil, err
		}

		backoff := retryBackoff(attempt)
		c.logger.Warn().Err(err).Str("operation", spec.operation).Str("path", path).
			Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying exchange request")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retryBackoff computes the delay before retry attempt n+1: a doubling
// base starting at 250ms, plus up to 50% jitter to avoid synchronized
// retry storms across concurrent callers.
func retryBackoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	return base + jitter
}

// attempt performs one HTTP round-trip against path, through the rate
// governor, updating endpoint metrics and returning the decoded envelope's
// raw Data bytes.
func (c *Client) attempt(ctx context.Context, spec requestSpec, path string) (json.RawMessage, error) {
	release, err := c.governor.Acquire(ctx, spec.category, spec.priority)
	if err != nil {
		if _, ok := err.(*ratelimit.ErrRateLimited); ok {
			rl := err.(*ratelimit.ErrRateLimited)
			return nil, &APIError{Kind: KindRateLimit, Message: err.Error(), RetryAfterSecs: rl.RecoverySeconds}
		}
		return nil, &APIError{Kind: KindUnknown, Message: err.Error(), Cause: err}
	}

	params := spec.params
	if spec.private {
		params = sign(params, c.cfg.SecretKey, time.Now())
	}

	reqURL := c.baseURL() + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, spec.method, reqURL, nil)
	if err != nil {
		release(false)
		return nil, &APIError{Kind: KindUnknown, Message: err.Error(), Cause: err}
	}
	if spec.private {
		req.Header.Set("X-BX-APIKEY", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		release(false)
		c.registry.recordFailure(path)
		kind := Classify(0, 0, "", err)
		c.recordMetric(spec.operation, "error")
		return nil, &APIError{Kind: kind, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var envelope wireEnvelope[json.RawMessage]
	_ = json.Unmarshal(body, &envelope)

	if resp.StatusCode >= 300 || (envelope.Code != 0 && envelope.Code != 200) {
		release(false)
		c.registry.recordFailure(path)
		kind := Classify(resp.StatusCode, envelope.Code, string(body), nil)
		c.recordMetric(spec.operation, "error")
		apiErr := &APIError{Kind: kind, HTTPStatus: resp.StatusCode, UpstreamCode: envelope.Code, Message: envelope.Msg}
		if kind == KindRateLimit {
			apiErr.RetryAfterSecs = retryAfterSeconds(resp)
			c.governor.TriggerRateLimit(time.Duration(apiErr.RetryAfterSecs) * time.Second)
		}
		return nil, apiErr
	}

	release(true)
	c.registry.recordSuccess(path, elapsed)
	c.recordMetric(spec.operation, "success")
	if c.metrics != nil {
		c.metrics.ExchangeResponseTime.WithLabelValues(spec.operation).Observe(elapsed.Seconds())
	}

	return envelope.Data, nil
}

func (c *Client) recordMetric(operation, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ExchangeCallsTotal.WithLabelValues(operation, outcome).Inc()
}

func retryAfterSeconds(resp *http.Response) int {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 30
	}
	var secs int
	if _, err := fmt.Sscanf(h, "%d", &secs); err != nil || secs <= 0 {
		return 30
	}
	return secs
}

// GetSymbols fetches every perpetual-futures contract descriptor.
func (c *Client) GetSymbols(ctx context.Context) ([]asset.Contract, error) {
	var wire []wireContract
	spec := requestSpec{
		operation: "symbols",
		method:    http.MethodGet,
		params:    url.Values{},
		category:  ratelimit.CategoryMarketData,
		priority:  ratelimit.PriorityHigh,
		timeout:   c.cfg.SymbolsTimeout,
		cacheTTL:  5 * time.Second,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return nil, err
	}
	return contractsFromWire(wire), nil
}

// GetAllTickers fetches price snapshots for every symbol.
func (c *Client) GetAllTickers(ctx context.Context) ([]asset.Ticker, error) {
	var wire []wireTicker
	spec := requestSpec{
		operation: "tickers",
		method:    http.MethodGet,
		params:    url.Values{},
		category:  ratelimit.CategoryMarketData,
		priority:  ratelimit.PriorityHigh,
		timeout:   c.cfg.SymbolsTimeout,
		cacheTTL:  5 * time.Second,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return nil, err
	}
	return tickersFromWire(wire), nil
}

// GetTicker fetches a single symbol's price snapshot.
func (c *Client) GetTicker(ctx context.Context, symbol string) (asset.Ticker, error) {
	var wire wireTicker
	params := url.Values{"symbol": []string{symbol}}
	spec := requestSpec{
		operation: "ticker",
		method:    http.MethodGet,
		params:    params,
		category:  ratelimit.CategoryMarketData,
		priority:  ratelimit.PriorityMedium,
		timeout:   c.cfg.SymbolsTimeout,
		cacheTTL:  2 * time.Second,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return asset.Ticker{}, err
	}
	return tickerFromWire(wire), nil
}

// SymbolsAndTickers is the joined result of the combined fetch.
type SymbolsAndTickers struct {
	Contracts []asset.Contract
	Tickers   []asset.Ticker
}

// GetSymbolsAndTickers runs the symbols and tickers operations
// concurrently, each going through the rate governor independently, using
// a cache key distinct from the individual operations so the combined and
// single results can expire independently.
func (c *Client) GetSymbolsAndTickers(ctx context.Context) (SymbolsAndTickers, error) {
	cacheKey := "combined:symbolsAndTickers"
	if cached, ok := c.governor.Cache().Get(cacheKey); ok {
		return cached.(SymbolsAndTickers), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CombinedTimeout)
	defer cancel()

	type result struct {
		contracts []asset.Contract
		tickers   []asset.Ticker
		err       error
	}

	contractsCh := make(chan result, 1)
	tickersCh := make(chan result, 1)

	go func() {
		contracts, err := c.GetSymbols(ctx)
		contractsCh <- result{contracts: contracts, err: err}
	}()
	go func() {
		tickers, err := c.GetAllTickers(ctx)
		tickersCh <- result{tickers: tickers, err: err}
	}()

	contractsRes := <-contractsCh
	tickersRes := <-tickersCh

	if contractsRes.err != nil {
		return SymbolsAndTickers{}, contractsRes.err
	}
	if tickersRes.err != nil {
		return SymbolsAndTickers{Contracts: contractsRes.contracts}, tickersRes.err
	}

	out := SymbolsAndTickers{Contracts: contractsRes.contracts, Tickers: tickersRes.tickers}
	c.governor.Cache().Set(cacheKey, out, 5*time.Second)
	return out, nil
}

func contractsFromWire(wire []wireContract) []asset.Contract {
	out := make([]asset.Contract, 0, len(wire))
	for _, w := range wire {
		c := asset.Contract{
			Symbol:      w.Symbol,
			DisplayName: w.DisplayName,
			Asset:       w.Asset,
			Currency:    w.Currency,
		}
		if w.Status != nil {
			c.Status = *w.Status
			c.StatusPresent = true
		}
		if w.TradeMinQuantity != nil {
			c.TradeMinQuantity = *w.TradeMinQuantity
		}
		if w.Size != nil {
			c.Size = *w.Size
		}
		if w.MaxQty != nil {
			c.MaxQty = *w.MaxQty
		}
		if w.PricePrecision != nil {
			c.PricePrecision = *w.PricePrecision
			c.PricePrecisionSet = true
		}
		if w.QuantityPrecision != nil {
			c.QuantityPrecision = *w.QuantityPrecision
			c.QtyPrecisionSet = true
		}
		if w.MaxLeverage != nil {
			c.MaxLeverage = *w.MaxLeverage
			c.MaxLeverageSet = true
		}
		if w.FeeRate != nil {
			c.FeeRate = *w.FeeRate
			c.FeeRateSet = true
		}
		out = append(out, c)
	}
	return out
}

func tickersFromWire(wire []wireTicker) []asset.Ticker {
	out := make([]asset.Ticker, 0, len(wire))
	for _, w := range wire {
		out = append(out, tickerFromWire(w))
	}
	return out
}

func tickerFromWire(w wireTicker) asset.Ticker {
	return asset.Ticker{
		Symbol:             w.Symbol,
		LastPrice:          w.LastPrice,
		PriceChangePercent: w.PriceChangePercent,
		BaseVolume24h:      w.BaseVolume,
		QuoteVolume24h:     w.QuoteVolume,
		HighPrice24h:       w.HighPrice,
		LowPrice24h:        w.LowPrice,
		OpenInterest:       w.OpenInterest,
	}
}
