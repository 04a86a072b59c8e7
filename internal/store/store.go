package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// allowedSortColumns enumerates every column a caller may sort by: the
// market-state columns plus symbol, name, updatedAt. Anything else is
// rejected at the HTTP boundary with a 400.
var allowedSortColumns = map[string]string{
	"symbol":             "symbol",
	"name":               "name",
	"updatedAt":          "updated_at",
	"lastPrice":          "last_price",
	"priceChangePercent": "price_change_percent",
	"baseVolume24h":      "base_volume_24h",
	"quoteVolume24h":     "quote_volume_24h",
	"highPrice24h":       "high_price_24h",
	"lowPrice24h":        "low_price_24h",
	"openInterest":       "open_interest",
}

// ValidSortColumn reports whether a caller-supplied sortBy value maps onto
// an allowed column, and returns the db column name.
func ValidSortColumn(sortBy string) (string, bool) {
	col, ok := allowedSortColumns[sortBy]
	return col, ok
}

// Filter narrows FindAll/Count to a status and/or a search substring over
// symbol/name.
type Filter struct {
	Status string
	Search string
}

// Query describes one FindAll call.
type Query struct {
	Filter    Filter
	SortBy    string // db column name, already validated via ValidSortColumn
	Ascending bool
	Limit     int
	Offset    int
}

// Store is the Asset Store: a GORM-backed, symbol-keyed persistent
// collection.
type Store struct {
	db *gorm.DB
}

// Open connects to databaseURL. An empty databaseURL with development=true
// opens an embedded, file-backed SQLite database instead.
func Open(databaseURL string, development bool) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case databaseURL != "":
		dialector = mysql.Open(databaseURL)
	case development:
		dialector = sqlite.Open("bingx_refresh.db")
	default:
		return nil, fmt.Errorf("DATABASE_URL is required outside development")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}

	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("failed to migrate asset table: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *gorm.DB, used by tests that construct
// their own in-memory sqlite connection.
func OpenWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("failed to migrate asset table: %w", err)
	}
	return &Store{db: db}, nil
}

// UpsertResult reports, per input row (same order as the input slice),
// whether the row was newly inserted.
type UpsertResult struct {
	Inserted []bool
	Created  int
	Updated  int
}

// nonKeyColumns lists every Row column except the primary key, used to
// build the ON CONFLICT DO UPDATE column set.
var nonKeyColumns = []string{
	"name", "base_currency", "quote_currency", "status",
	"min_qty", "max_qty", "tick_size", "step_size", "max_leverage", "maint_margin_rate",
	"last_price", "price_change_percent", "base_volume_24h", "quote_volume_24h",
	"high_price_24h", "low_price_24h", "open_interest", "updated_at",
}

// UpsertBatch performs one atomic, transactional merge of a batch: for
// each input row, insert if the symbol is new, otherwise update every
// non-key column and the updated_at timestamp. The pre-query of existing
// symbols runs inside the same transaction as the merge, so the
// Created/Updated tallies are exact per-row counts, not estimates.
func (s *Store) UpsertBatch(ctx context.Context, assets []asset.Asset) (UpsertResult, error) {
	if len(assets) == 0 {
		return UpsertResult{}, nil
	}

	rows := make([]Row, len(assets))
	symbols := make([]string, len(assets))
	for i, a := range assets {
		rows[i] = fromAsset(a)
		rows[i].UpdatedAt = time.Now()
		symbols[i] = a.Symbol
	}

	result := UpsertResult{Inserted: make([]bool, len(assets))}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&Row{}).Where("symbol IN ?", symbols).Pluck("symbol", &existing).Error; err != nil {
			return fmt.Errorf("failed to check existing symbols: %w", err)
		}
		existingSet := make(map[string]bool, len(existing))
		for _, sym := range existing {
			existingSet[sym] = true
		}

		for i, sym := range symbols {
			if !existingSet[sym] {
				result.Inserted[i] = true
				result.Created++
			} else {
				result.Updated++
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns(nonKeyColumns),
		}).Create(&rows).Error
	})
	if err != nil {
		return UpsertResult{}, err
	}

	return result, nil
}

// UpdateMarketDataBySymbol updates only the market-state columns of an
// existing row, used by the delta refresh path. Tickers whose symbol is
// not already present are skipped and not counted.
func (s *Store) UpdateMarketDataBySymbol(ctx context.Context, tickers []asset.Ticker) (updated int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tickers {
			res := tx.Model(&Row{}).Where("symbol = ?", t.Symbol).Updates(map[string]any{
				"last_price":           asset.Finite(t.LastPrice, 0),
				"price_change_percent": asset.Finite(t.PriceChangePercent, 0),
				"base_volume_24h":      asset.Finite(t.BaseVolume24h, 0),
				"quote_volume_24h":     asset.Finite(t.QuoteVolume24h, 0),
				"high_price_24h":       asset.Finite(t.HighPrice24h, 0),
				"low_price_24h":        asset.Finite(t.LowPrice24h, 0),
				"open_interest":        asset.Finite(t.OpenInterest, 0),
				"updated_at":           time.Now(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				updated++
			}
		}
		return nil
	})
	return updated, err
}

// FindAll returns a page of assets matching q, ordered by q.SortBy.
func (s *Store) FindAll(ctx context.Context, q Query) ([]asset.Asset, error) {
	tx := s.applyFilter(s.db.WithContext(ctx), q.Filter)

	order := q.SortBy
	if order == "" {
		order = "symbol"
	}
	direction := "ASC"
	if !q.Ascending {
		direction = "DESC"
	}
	tx = tx.Order(fmt.Sprintf("%s %s", order, direction))

	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var rows []Row
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]asset.Asset, len(rows))
	for i, r := range rows {
		out[i] = r.toAsset()
	}
	return out, nil
}

// Count returns the number of assets matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	var count int64
	err := s.applyFilter(s.db.WithContext(ctx), f).Model(&Row{}).Count(&count).Error
	return count, err
}

// Truncate deletes every row. Operator-only; the refresh path never
// deletes rows.
func (s *Store) Truncate(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Row{})
	return res.RowsAffected, res.Error
}

// MaxUpdatedAt returns the most recent updated_at across all rows, used by
// the orchestrator to decide between a full and delta refresh. The zero
// time is returned if the store is empty.
func (s *Store) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var max time.Time
	row := s.db.WithContext(ctx).Model(&Row{}).Select("MAX(updated_at)").Row()
	if err := row.Scan(&max); err != nil {
		return time.Time{}, nil // empty store, no rows to scan
	}
	return max, nil
}

// FindBySymbol looks up a single asset by its exact, normalized symbol.
func (s *Store) FindBySymbol(ctx context.Context, symbol string) (asset.Asset, bool, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return asset.Asset{}, false, nil
	}
	if err != nil {
		return asset.Asset{}, false, err
	}
	return row.toAsset(), true, nil
}

// CountByStatus returns the number of rows for each distinct status value,
// used by the POST /refresh status-distribution summary.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&Row{}).
		Select("status, count(*) as count").Group("status").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *Store) applyFilter(tx *gorm.DB, f Filter) *gorm.DB {
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		tx = tx.Where("symbol LIKE ? OR name LIKE ?", like, like)
	}
	return tx
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
