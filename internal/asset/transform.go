package asset

import (
	"fmt"
	"math"
)

// Defaults applied when an upstream field is absent.
const (
	DefaultMinQty          = 0.0
	DefaultMaxQty          = 999_999_999.0
	DefaultTickSize        = 0.0001
	DefaultStepSize        = 0.001
	DefaultMaxLeverage     = 100.0
	DefaultMaintMarginRate = 0.0
	DefaultQuoteCurrency   = "USDT"
)

// Finite coerces NaN/±Inf to the supplied default, matching the invariant
// that every persisted numeric field must be finite.
func Finite(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// Transform maps a deduplicated Contract, optionally joined with a Ticker,
// onto the internal Asset shape. index and epochMillis are used only to
// synthesize a symbol when the contract arrives with an empty one.
func Transform(c Contract, t *Ticker, index int, epochMillis int64) Asset {
	symbol := c.Symbol
	if symbol == "" {
		symbol = fmt.Sprintf("UNKNOWN_%d_%d", index, epochMillis)
	} else {
		symbol = Normalize(symbol)
	}

	name := c.DisplayName
	if name == "" {
		name = symbol
	}

	base := c.Asset
	if base == "" {
		base = BaseCurrency(symbol)
		if base == "" {
			base = "UNKNOWN"
		}
	}

	quote := c.Currency
	if quote == "" {
		quote = QuoteCurrency(symbol)
		if quote == "" {
			quote = DefaultQuoteCurrency
		}
	}

	status := StatusFromCode(c.Status, c.StatusPresent)

	minQty := c.TradeMinQuantity
	if minQty == 0 {
		minQty = c.Size
	}
	minQty = Finite(minQty, DefaultMinQty)

	maxQty := c.MaxQty
	if maxQty == 0 {
		maxQty = DefaultMaxQty
	}
	maxQty = Finite(maxQty, DefaultMaxQty)

	tickSize := DefaultTickSize
	if c.PricePrecisionSet {
		tickSize = Finite(math.Pow(10, -float64(c.PricePrecision)), DefaultTickSize)
	}

	stepSize := DefaultStepSize
	if c.QtyPrecisionSet {
		stepSize = Finite(math.Pow(10, -float64(c.QuantityPrecision)), DefaultStepSize)
	}

	maxLeverage := DefaultMaxLeverage
	if c.MaxLeverageSet {
		maxLeverage = Finite(c.MaxLeverage, DefaultMaxLeverage)
	}

	maintMarginRate := DefaultMaintMarginRate
	if c.FeeRateSet {
		maintMarginRate = Finite(c.FeeRate, DefaultMaintMarginRate)
	}

	a := Asset{
		Symbol:          symbol,
		Name:            name,
		BaseCurrency:    base,
		QuoteCurrency:   quote,
		Status:          status,
		MinQty:          minQty,
		MaxQty:          maxQty,
		TickSize:        tickSize,
		StepSize:        stepSize,
		MaxLeverage:     maxLeverage,
		MaintMarginRate: maintMarginRate,
	}

	if t != nil {
		a.LastPrice = Finite(t.LastPrice, 0)
		a.PriceChangePercent = Finite(t.PriceChangePercent, 0)
		a.BaseVolume24h = Finite(t.BaseVolume24h, 0)
		a.QuoteVolume24h = Finite(t.QuoteVolume24h, 0)
		a.HighPrice24h = Finite(t.HighPrice24h, 0)
		a.LowPrice24h = Finite(t.LowPrice24h, 0)
		a.OpenInterest = Finite(t.OpenInterest, 0)
	}

	return a
}
