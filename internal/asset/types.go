// Package asset defines the persisted Asset record and the transient
// Contract/Ticker descriptors the refresh orchestrator merges into it.
package asset

import "time"

// Status is the enumerated contract lifecycle state. Any upstream value
// that does not map onto one of these five strings is coerced to Unknown.
type Status string

const (
	StatusTrading     Status = "TRADING"
	StatusSuspended   Status = "SUSPENDED"
	StatusDelisted    Status = "DELISTED"
	StatusMaintenance Status = "MAINTENANCE"
	StatusUnknown     Status = "UNKNOWN"
)

// StatusFromCode maps the upstream integer status code onto our enum.
// 1->TRADING, 0->SUSPENDED, 2->DELISTED, 3->MAINTENANCE, anything else/missing->UNKNOWN.
func StatusFromCode(code int, present bool) Status {
	if !present {
		return StatusUnknown
	}
	switch code {
	case 1:
		return StatusTrading
	case 0:
		return StatusSuspended
	case 2:
		return StatusDelisted
	case 3:
		return StatusMaintenance
	default:
		return StatusUnknown
	}
}

// Asset is the persisted record, uniquely identified by Symbol.
type Asset struct {
	Symbol string `json:"symbol"`

	// Contract metadata (slowly changing).
	Name            string  `json:"name"`
	BaseCurrency    string  `json:"baseCurrency"`
	QuoteCurrency   string  `json:"quoteCurrency"`
	Status          Status  `json:"status"`
	MinQty          float64 `json:"minQty"`
	MaxQty          float64 `json:"maxQty"`
	TickSize        float64 `json:"tickSize"`
	StepSize        float64 `json:"stepSize"`
	MaxLeverage     float64 `json:"maxLeverage"`
	MaintMarginRate float64 `json:"maintMarginRate"`

	// Market state (fast changing).
	LastPrice          float64 `json:"lastPrice"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	BaseVolume24h      float64 `json:"baseVolume24h"`
	QuoteVolume24h     float64 `json:"quoteVolume24h"`
	HighPrice24h       float64 `json:"highPrice24h"`
	LowPrice24h        float64 `json:"lowPrice24h"`
	OpenInterest       float64 `json:"openInterest"`

	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contract is the raw upstream descriptor from the Symbols endpoint.
// Transient: consumed only by the orchestrator's transform stage.
type Contract struct {
	Symbol            string
	DisplayName       string
	Asset             string // base currency hint
	Currency          string // quote currency hint
	Status            int
	StatusPresent     bool
	TradeMinQuantity  float64
	Size              float64
	MaxQty            float64
	PricePrecision    int
	PricePrecisionSet bool
	QuantityPrecision int
	QtyPrecisionSet   bool
	MaxLeverage       float64
	MaxLeverageSet    bool
	FeeRate           float64
	FeeRateSet        bool
}

// Ticker is the raw upstream price snapshot from the Tickers endpoint,
// joined to Contract by Symbol in the merge stage.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	BaseVolume24h      float64
	QuoteVolume24h     float64
	HighPrice24h       float64
	LowPrice24h        float64
	OpenInterest       float64
}
