// Package store implements the Asset Store: a persistent, symbol-keyed
// collection with ordered paginated reads, a count, a truncate operation,
// and the atomic batch-merge primitive the Bulk Upsert Engine drives.
package store

import (
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
)

// Row is the GORM model backing the asset table, mirroring asset.Asset
// with db-friendly tags. The composite indexes cover the two hot listing
// queries: trading assets by volume and by price change.
type Row struct {
	Symbol string `gorm:"primaryKey;size:32;column:symbol"`

	Name            string  `gorm:"size:64;column:name"`
	BaseCurrency    string  `gorm:"size:16;column:base_currency"`
	QuoteCurrency   string  `gorm:"size:16;column:quote_currency"`
	Status          string  `gorm:"size:16;column:status;index:idx_status_quote_volume;index:idx_status_price_change"`
	MinQty          float64 `gorm:"column:min_qty"`
	MaxQty          float64 `gorm:"column:max_qty"`
	TickSize        float64 `gorm:"column:tick_size"`
	StepSize        float64 `gorm:"column:step_size"`
	MaxLeverage     float64 `gorm:"column:max_leverage"`
	MaintMarginRate float64 `gorm:"column:maint_margin_rate"`

	LastPrice          float64 `gorm:"column:last_price"`
	PriceChangePercent float64 `gorm:"column:price_change_percent;index:idx_status_price_change"`
	BaseVolume24h      float64 `gorm:"column:base_volume_24h"`
	QuoteVolume24h     float64 `gorm:"column:quote_volume_24h;index:idx_status_quote_volume"`
	HighPrice24h       float64 `gorm:"column:high_price_24h"`
	LowPrice24h        float64 `gorm:"column:low_price_24h"`
	OpenInterest       float64 `gorm:"column:open_interest"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime;index:idx_updated_at"`
}

// TableName pins the physical table name.
func (Row) TableName() string { return "assets" }

// fromAsset converts a domain Asset to its row representation.
func fromAsset(a asset.Asset) Row {
	return Row{
		Symbol:             a.Symbol,
		Name:               a.Name,
		BaseCurrency:       a.BaseCurrency,
		QuoteCurrency:      a.QuoteCurrency,
		Status:             string(a.Status),
		MinQty:             a.MinQty,
		MaxQty:             a.MaxQty,
		TickSize:           a.TickSize,
		StepSize:           a.StepSize,
		MaxLeverage:        a.MaxLeverage,
		MaintMarginRate:    a.MaintMarginRate,
		LastPrice:          a.LastPrice,
		PriceChangePercent: a.PriceChangePercent,
		BaseVolume24h:      a.BaseVolume24h,
		QuoteVolume24h:     a.QuoteVolume24h,
		HighPrice24h:       a.HighPrice24h,
		LowPrice24h:        a.LowPrice24h,
		OpenInterest:       a.OpenInterest,
	}
}

// toAsset converts a row back to the domain Asset.
func (r Row) toAsset() asset.Asset {
	return asset.Asset{
		Symbol:             r.Symbol,
		Name:               r.Name,
		BaseCurrency:       r.BaseCurrency,
		QuoteCurrency:      r.QuoteCurrency,
		Status:             asset.Status(r.Status),
		MinQty:             r.MinQty,
		MaxQty:             r.MaxQty,
		TickSize:           r.TickSize,
		StepSize:           r.StepSize,
		MaxLeverage:        r.MaxLeverage,
		MaintMarginRate:    r.MaintMarginRate,
		LastPrice:          r.LastPrice,
		PriceChangePercent: r.PriceChangePercent,
		BaseVolume24h:      r.BaseVolume24h,
		QuoteVolume24h:     r.QuoteVolume24h,
		HighPrice24h:       r.HighPrice24h,
		LowPrice24h:        r.LowPrice24h,
		OpenInterest:       r.OpenInterest,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
