package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testStore opens a named in-memory sqlite database unique to the calling
// test, so parallel connections within one test share state but tests
// never see each other's rows.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	s, err := OpenWithDB(db)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

func sampleAsset(symbol string, price float64) asset.Asset {
	return asset.Asset{
		Symbol: symbol, Name: symbol, BaseCurrency: "BTC", QuoteCurrency: "USDT",
		Status: asset.StatusTrading, LastPrice: price, QuoteVolume24h: 100,
	}
}

func TestUpsertBatchInsertsNewRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, err := s.UpsertBatch(ctx, []asset.Asset{sampleAsset("BTC-USDT", 1), sampleAsset("ETH-USDT", 2)})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 {
		t.Fatalf("expected 2 created 0 updated, got created=%d updated=%d", res.Created, res.Updated)
	}
	if !res.Inserted[0] || !res.Inserted[1] {
		t.Fatal("expected both rows flagged as inserted")
	}

	count, err := s.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestUpsertBatchUpdatesExistingRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.UpsertBatch(ctx, []asset.Asset{sampleAsset("BTC-USDT", 1)}); err != nil {
		t.Fatalf("initial UpsertBatch: %v", err)
	}

	res, err := s.UpsertBatch(ctx, []asset.Asset{sampleAsset("BTC-USDT", 2)})
	if err != nil {
		t.Fatalf("second UpsertBatch: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Fatalf("expected 0 created 1 updated, got created=%d updated=%d", res.Created, res.Updated)
	}

	rows, err := s.FindAll(ctx, Query{})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(rows) != 1 || rows[0].LastPrice != 2 {
		t.Fatalf("expected updated price 2, got %+v", rows)
	}
}

func TestFindAllOrdersBySortColumn(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []asset.Asset{
		sampleAsset("BTC-USDT", 3),
		sampleAsset("ETH-USDT", 1),
	})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	rows, err := s.FindAll(ctx, Query{SortBy: "last_price", Ascending: true})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(rows) != 2 || rows[0].Symbol != "ETH-USDT" {
		t.Fatalf("expected ETH-USDT first by ascending price, got %+v", rows)
	}
}

func TestTruncateRemovesAllRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.UpsertBatch(ctx, []asset.Asset{sampleAsset("BTC-USDT", 1)}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if _, err := s.Truncate(ctx); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	count, err := s.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows after truncate, got %d", count)
	}
}

func TestValidSortColumn(t *testing.T) {
	if _, ok := ValidSortColumn("not-a-real-column"); ok {
		t.Fatal("expected unknown sort column to be rejected")
	}
	if col, ok := ValidSortColumn("quoteVolume24h"); !ok || col != "quote_volume_24h" {
		t.Fatalf("expected quote_volume_24h, got %q ok=%v", col, ok)
	}
}
