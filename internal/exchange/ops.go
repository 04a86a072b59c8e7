package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/ratelimit"
)

// Balance is a single account balance line.
type Balance struct {
	Asset   string
	Balance float64
	Equity  float64
}

// Position is a single open account position.
type Position struct {
	Symbol       string
	PositionSide string
	Quantity     float64
	EntryPrice   float64
	UnrealizedPL float64
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// DepthLevel is one order book price level.
type DepthLevel struct {
	Price float64
	Qty   float64
}

// Depth is an order book snapshot.
type Depth struct {
	Symbol string
	Bids   []DepthLevel
	Asks   []DepthLevel
}

// OrderAck acknowledges an order placement/cancellation.
type OrderAck struct {
	OrderID string
	Symbol  string
	Status  string
}

// OrderRequest describes a new order. These fields are intentionally
// minimal: order placement is a named collaborator interface, not part of
// the refresh pipeline's core.
type OrderRequest struct {
	Symbol   string
	Side     string // BUY/SELL
	Type     string // MARKET/LIMIT
	Quantity float64
	Price    float64 // ignored for MARKET
}

// GetBalance fetches the account's futures wallet balance. Private,
// account category.
func (c *Client) GetBalance(ctx context.Context) ([]Balance, error) {
	var wire []wireBalance
	spec := requestSpec{
		operation: "balance",
		method:    http.MethodGet,
		params:    url.Values{},
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityHigh,
		timeout:   c.cfg.SymbolsTimeout,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(wire))
	for _, w := range wire {
		out = append(out, Balance{Asset: w.Asset, Balance: w.Balance, Equity: w.Equity})
	}
	return out, nil
}

// GetPositions fetches currently open positions. Private, account
// category.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var wire []wirePosition
	spec := requestSpec{
		operation: "positions",
		method:    http.MethodGet,
		params:    url.Values{},
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityHigh,
		timeout:   c.cfg.SymbolsTimeout,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(wire))
	for _, w := range wire {
		out = append(out, Position{
			Symbol: w.Symbol, PositionSide: w.PositionSide,
			Quantity: w.Quantity, EntryPrice: w.EntryPrice, UnrealizedPL: w.UnrealizedPL,
		})
	}
	return out, nil
}

// PlaceOrder submits a new order. Private, account category, critical
// priority (order entry must not starve behind market-data refresh calls
// sharing the same process).
func (c *Client) PlaceOrder(ctx context.Context, o OrderRequest) (OrderAck, error) {
	var wire wireOrderAck
	params := url.Values{
		"symbol":   []string{o.Symbol},
		"side":     []string{o.Side},
		"type":     []string{o.Type},
		"quantity": []string{strconv.FormatFloat(o.Quantity, 'f', -1, 64)},
	}
	if o.Type == "LIMIT" {
		params.Set("price", strconv.FormatFloat(o.Price, 'f', -1, 64))
	}
	spec := requestSpec{
		operation: "placeOrder",
		method:    http.MethodPost,
		params:    params,
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityCritical,
		timeout:   c.cfg.SymbolsTimeout,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: wire.OrderID, Symbol: wire.Symbol, Status: wire.Status}, nil
}

// CancelOrder cancels an existing order by id. Private, account category.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (OrderAck, error) {
	var wire wireOrderAck
	params := url.Values{"symbol": []string{symbol}, "orderId": []string{orderID}}
	spec := requestSpec{
		operation: "cancelOrder",
		method:    http.MethodDelete,
		params:    params,
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityCritical,
		timeout:   c.cfg.SymbolsTimeout,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: wire.OrderID, Symbol: wire.Symbol, Status: wire.Status}, nil
}

// GetKlines fetches OHLCV candles for a symbol/interval. Public, market
// data category.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var wire []wireKline
	params := url.Values{
		"symbol":   []string{symbol},
		"interval": []string{interval},
		"limit":    []string{strconv.Itoa(limit)},
	}
	spec := requestSpec{
		operation: "klines",
		method:    http.MethodGet,
		params:    params,
		category:  ratelimit.CategoryMarketData,
		priority:  ratelimit.PriorityLow,
		timeout:   c.cfg.SymbolsTimeout,
		cacheTTL:  10 * time.Second,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return nil, err
	}
	out := make([]Kline, 0, len(wire))
	for _, w := range wire {
		out = append(out, Kline{
			OpenTime: time.UnixMilli(w.OpenTime),
			Open:     w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume,
		})
	}
	return out, nil
}

// GetDepth fetches an order book snapshot. Public, market data category.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) (Depth, error) {
	var wire wireDepth
	params := url.Values{"symbol": []string{symbol}, "limit": []string{strconv.Itoa(limit)}}
	spec := requestSpec{
		operation: "depth",
		method:    http.MethodGet,
		params:    params,
		category:  ratelimit.CategoryMarketData,
		priority:  ratelimit.PriorityLow,
		timeout:   c.cfg.SymbolsTimeout,
		cacheTTL:  time.Second,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return Depth{}, err
	}
	d := Depth{Symbol: wire.Symbol}
	for _, b := range wire.Bids {
		d.Bids = append(d.Bids, DepthLevel{Price: b.Price, Qty: b.Qty})
	}
	for _, a := range wire.Asks {
		d.Asks = append(d.Asks, DepthLevel{Price: a.Price, Qty: a.Qty})
	}
	return d, nil
}

// StartUserDataStream requests a listen key for the private user-data
// WebSocket feed. Private, account category. Lifecycle collaborator only
// -- the refresh pipeline never opens the stream itself.
func (c *Client) StartUserDataStream(ctx context.Context) (string, error) {
	var wire struct {
		ListenKey string `json:"listenKey"`
	}
	spec := requestSpec{
		operation: "startUserStream",
		method:    http.MethodPost,
		params:    url.Values{},
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityMedium,
		timeout:   c.cfg.SymbolsTimeout,
	}
	if err := c.doRequest(ctx, spec, &wire); err != nil {
		return "", err
	}
	return wire.ListenKey, nil
}

// KeepAliveUserDataStream extends the listen key's validity window.
func (c *Client) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	spec := requestSpec{
		operation: "startUserStream",
		method:    http.MethodPut,
		params:    url.Values{"listenKey": []string{listenKey}},
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityLow,
		timeout:   c.cfg.SymbolsTimeout,
	}
	var wire struct{}
	return c.doRequest(ctx, spec, &wire)
}

// CloseUserDataStream invalidates a listen key.
func (c *Client) CloseUserDataStream(ctx context.Context, listenKey string) error {
	spec := requestSpec{
		operation: "startUserStream",
		method:    http.MethodDelete,
		params:    url.Values{"listenKey": []string{listenKey}},
		private:   true,
		category:  ratelimit.CategoryAccount,
		priority:  ratelimit.PriorityLow,
		timeout:   c.cfg.SymbolsTimeout,
	}
	var wire struct{}
	return c.doRequest(ctx, spec, &wire)
}
