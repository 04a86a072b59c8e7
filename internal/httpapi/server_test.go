package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/progress"
	"github.com/adred-codev/bingx-refresh/internal/refresh"
	"github.com/adred-codev/bingx-refresh/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	assets []asset.Asset
}

func (f *fakeStore) FindAll(ctx context.Context, q store.Query) ([]asset.Asset, error) {
	return f.assets, nil
}
func (f *fakeStore) Count(ctx context.Context, filter store.Filter) (int64, error) {
	return int64(len(f.assets)), nil
}
func (f *fakeStore) FindBySymbol(ctx context.Context, symbol string) (asset.Asset, bool, error) {
	for _, a := range f.assets {
		if a.Symbol == symbol {
			return a, true, nil
		}
	}
	return asset.Asset{}, false, nil
}
func (f *fakeStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"TRADING": int64(len(f.assets))}, nil
}
func (f *fakeStore) Truncate(ctx context.Context) (int64, error) {
	n := int64(len(f.assets))
	f.assets = nil
	return n, nil
}

type fakeOrchestrator struct {
	summary refresh.Summary
	err     error
}

func (f *fakeOrchestrator) RunFull(ctx context.Context, sessionID string) (refresh.Summary, error) {
	f.summary.SessionID = sessionID
	return f.summary, f.err
}
func (f *fakeOrchestrator) RunDelta(ctx context.Context, sessionID string) (refresh.Summary, error) {
	f.summary.SessionID = sessionID
	return f.summary, f.err
}

func testServer(t *testing.T, st *fakeStore, orch *fakeOrchestrator) *Server {
	t.Helper()
	hub := progress.New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return New(st, orch, hub, nil, nil, nil, zerolog.Nop(), "")
}

type fakeGovernor struct {
	limited      bool
	recoverySecs int
}

func (f *fakeGovernor) IsRateLimited() (bool, int) { return f.limited, f.recoverySecs }

func TestHandleRefreshAnswersSynchronouslyDuringRecovery(t *testing.T) {
	hub := progress.New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	orch := &fakeOrchestrator{}
	s := New(&fakeStore{}, orch, hub, nil, &fakeGovernor{limited: true, recoverySecs: 90}, nil, zerolog.Nop(), "")

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 without invoking the orchestrator, got %d", w.Code)
	}
}

func TestHandleRefreshReturnsSummary(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{{Symbol: "BTC-USDT"}}}
	orch := &fakeOrchestrator{summary: refresh.Summary{Created: 1, Updated: 2, Total: 3, Processed: 3}}
	s := testServer(t, st, orch)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleRefreshRateLimited(t *testing.T) {
	st := &fakeStore{}
	orch := &fakeOrchestrator{err: &refresh.ErrRateLimited{RecoverySeconds: 120}}
	s := testServer(t, st, orch)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestHandleListReturnsPagination(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{{Symbol: "BTC-USDT"}, {Symbol: "ETH-USDT"}}}
	s := testServer(t, st, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleListRejectsInvalidSortColumn(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/?sortBy=dropTable", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleGetSymbolNotFound(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/XRP-USDT", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleGetSymbolFound(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{{Symbol: "BTC-USDT", LastPrice: 50000}}}
	s := testServer(t, st, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/BTC-USDT", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleGetSymbolNormalizesLowercaseAndSlashVariant(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{{Symbol: "DOT-USDT", LastPrice: 7}}}
	s := testServer(t, st, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/dot/vst-usdt", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetSymbolRejectsMalformedSymbol(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/bad$name", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleClearTruncatesStore(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{{Symbol: "BTC-USDT"}}}
	s := testServer(t, st, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodDelete, "/clear", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(st.assets) != 0 {
		t.Fatal("expected store to be truncated")
	}
}

func TestHandleStatsOverview(t *testing.T) {
	st := &fakeStore{assets: []asset.Asset{
		{Symbol: "BTC-USDT", PriceChangePercent: 5, QuoteVolume24h: 100},
		{Symbol: "ETH-USDT", PriceChangePercent: -3, QuoteVolume24h: 200},
	}}
	s := testServer(t, st, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/stats/overview", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleHealthz(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORSPreflightHandled(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodOptions, "/refresh", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS header to be set")
	}
}

func TestProgressStreamSendsConnectedEvent(t *testing.T) {
	s := testServer(t, &fakeStore{}, &fakeOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/refresh/progress/session-1", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 100*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatal("expected at least the connected event to be written")
	}
}
