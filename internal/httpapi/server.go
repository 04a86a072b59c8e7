// Package httpapi exposes the refresh pipeline's operational HTTP
// surface: triggering full/delta refreshes, streaming progress over SSE,
// and reading back the persisted asset collection. It is a thin
// collaborator over internal/refresh, internal/store, and
// internal/progress; no business logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/asset"
	"github.com/adred-codev/bingx-refresh/internal/progress"
	"github.com/adred-codev/bingx-refresh/internal/ratelimit"
	"github.com/adred-codev/bingx-refresh/internal/refresh"
	"github.com/adred-codev/bingx-refresh/internal/store"
	"github.com/adred-codev/bingx-refresh/internal/sysmon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// orchestrator is the subset of *refresh.Orchestrator the server needs.
type orchestrator interface {
	RunFull(ctx context.Context, sessionID string) (refresh.Summary, error)
	RunDelta(ctx context.Context, sessionID string) (refresh.Summary, error)
}

// governorStatus is the subset of *ratelimit.Governor the server needs to
// answer synchronously while a recovery window is active.
type governorStatus interface {
	IsRateLimited() (bool, int)
}

// systemMonitor is the subset of *sysmon.Monitor the health endpoint
// reports from.
type systemMonitor interface {
	Snapshot() sysmon.Snapshot
}

// assetStore is the subset of *store.Store the server needs.
type assetStore interface {
	FindAll(ctx context.Context, q store.Query) ([]asset.Asset, error)
	Count(ctx context.Context, f store.Filter) (int64, error)
	FindBySymbol(ctx context.Context, symbol string) (asset.Asset, bool, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	Truncate(ctx context.Context) (int64, error)
}

// Server wires the HTTP surface over its collaborators.
type Server struct {
	store        assetStore
	orchestrator orchestrator
	hub          *progress.Hub
	cache        *ratelimit.ResponseCache
	governor     governorStatus
	monitor      systemMonitor
	logger       zerolog.Logger
	frontendURL  string
}

// New builds a Server. cache, governor, and monitor may be nil in tests
// that don't exercise the rate-limit or health surfaces.
func New(st assetStore, orch orchestrator, hub *progress.Hub, cache *ratelimit.ResponseCache, governor governorStatus, monitor systemMonitor, logger zerolog.Logger, frontendURL string) *Server {
	return &Server{store: st, orchestrator: orch, hub: hub, cache: cache, governor: governor, monitor: monitor, logger: logger, frontendURL: frontendURL}
}

// Handler builds the complete mux, ready to hand to an *http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", s.withCORS(s.handleRefresh))
	mux.HandleFunc("/refresh/delta", s.withCORS(s.handleRefreshDelta))
	mux.HandleFunc("/refresh/progress/", s.withCORS(s.handleProgress))
	mux.HandleFunc("/all", s.withCORS(s.handleAll))
	mux.HandleFunc("/stats/overview", s.withCORS(s.handleStatsOverview))
	mux.HandleFunc("/cache/invalidate", s.withCORS(s.handleCacheInvalidate))
	mux.HandleFunc("/clear", s.withCORS(s.handleClear))
	mux.HandleFunc("/healthz", s.withCORS(s.handleHealthz))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.withCORS(s.handleRootOrSymbol))
	return mux
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if s.frontendURL != "" {
			origin = s.frontendURL
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func newSessionID() string {
	return fmt.Sprintf("refresh_%d", time.Now().UnixMilli())
}

// handleRefresh drives POST /refresh: blocks until the full refresh
// completes, returning the cumulative summary.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	// Answer synchronously while a recovery window is active instead of
	// starting a refresh that would abort at the fetch stage anyway.
	if s.governor != nil {
		if limited, recoverySecs := s.governor.IsRateLimited(); limited {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success": false, "recoveryMinutes": (recoverySecs + 59) / 60,
			})
			return
		}
	}

	summary, err := s.orchestrator.RunFull(r.Context(), sessionID)
	if rl, ok := err.(*refresh.ErrRateLimited); ok {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false, "recoveryMinutes": (rl.RecoverySeconds + 59) / 60,
		})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", sessionID).Msg("refresh failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	statusDist, _ := s.store.CountByStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"created":            summary.Created,
			"updated":            summary.Updated,
			"total":              summary.Total,
			"processed":          summary.Processed,
			"statusDistribution": statusDist,
			"sessionId":          summary.SessionID,
		},
	})
}

// handleRefreshDelta drives POST /refresh/delta.
func (s *Server) handleRefreshDelta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	start := time.Now()
	summary, err := s.orchestrator.RunDelta(r.Context(), sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", sessionID).Msg("delta refresh failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	message := "full refresh performed (store was stale)"
	if summary.DeltaMode != "" {
		message = "market data refreshed"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"message":       message,
			"updated":       summary.Updated,
			"created":       summary.Created,
			"total":         summary.Total,
			"sessionId":     summary.SessionID,
			"deltaMode":     summary.DeltaMode,
			"executionTime": time.Since(start).Milliseconds(),
		},
	})
}

// handleProgress serves GET /refresh/progress/{sessionId} as a
// Server-Sent-Event stream. The frame channel closes once the refresh
// reaches a terminal state; a disconnecting client unsubscribes itself.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/refresh/progress/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sessionID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				s.logger.Debug().Str("sessionId", sessionID).Err(err).Msg("progress stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// handleRootOrSymbol serves GET / (paginated listing) and GET /{symbol}
// (single asset lookup) off the same path prefix.
func (s *Server) handleRootOrSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		s.handleList(w, r)
		return
	}
	s.handleGetSymbol(w, r, path)
}

// handleGetSymbol normalizes the raw path segment into a canonical symbol
// and rejects anything that still doesn't match the canonical shape after
// normalization with a 400.
func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request, raw string) {
	symbol := asset.Normalize(raw)
	if !asset.Valid(symbol) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid symbol %q", raw))
		return
	}
	a, found, err := s.store.FindBySymbol(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": a})
}

func parseQuery(r *http.Request) (q store.Filter, sortBy string, ascending bool) {
	values := r.URL.Query()
	q.Status = values.Get("status")
	q.Search = values.Get("search")
	sortBy = values.Get("sortBy")
	ascending = strings.EqualFold(values.Get("sortOrder"), "asc")
	return q, sortBy, ascending
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, sortByParam, ascending := parseQuery(r)

	sortCol := "symbol"
	if sortByParam != "" {
		col, ok := store.ValidSortColumn(sortByParam)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid sortBy column %q", sortByParam))
			return
		}
		sortCol = col
	}

	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	ctx := r.Context()
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	assets, err := s.store.FindAll(ctx, store.Query{
		Filter: filter, SortBy: sortCol, Ascending: ascending,
		Limit: limit, Offset: (page - 1) * limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assets": assets,
		"pagination": map[string]any{
			"page": page, "limit": limit, "total": total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	filter, sortByParam, ascending := parseQuery(r)
	sortCol := "symbol"
	if sortByParam != "" {
		if col, ok := store.ValidSortColumn(sortByParam); ok {
			sortCol = col
		}
	}

	start := time.Now()
	assets, err := s.store.FindAll(r.Context(), store.Query{Filter: filter, SortBy: sortCol, Ascending: ascending})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var lastUpdated time.Time
	for _, a := range assets {
		if a.UpdatedAt.After(lastUpdated) {
			lastUpdated = a.UpdatedAt
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assets":        assets,
		"count":         len(assets),
		"executionTime": time.Since(start).Milliseconds(),
		"lastUpdated":   lastUpdated,
	})
}

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.Count(ctx, store.Filter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	trading, err := s.store.Count(ctx, store.Filter{Status: string(asset.StatusTrading)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	all, err := s.store.FindAll(ctx, store.Query{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalAssets":   total,
		"tradingAssets": trading,
		"topGainers":    topN(all, 5, func(a asset.Asset) float64 { return a.PriceChangePercent }, true),
		"topLosers":     topN(all, 5, func(a asset.Asset) float64 { return a.PriceChangePercent }, false),
		"topVolume":     topN(all, 5, func(a asset.Asset) float64 { return a.QuoteVolume24h }, true),
	})
}

func topN(assets []asset.Asset, n int, key func(asset.Asset) float64, descending bool) []asset.Asset {
	sorted := make([]asset.Asset, len(assets))
	copy(sorted, assets)
	sort.Slice(sorted, func(i, j int) bool {
		if descending {
			return key(sorted[i]) > key(sorted[j])
		}
		return key(sorted[i]) < key(sorted[j])
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Pattern string `json:"pattern"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	invalidated := 0
	if s.cache != nil {
		invalidated = s.cache.Invalidate(body.Pattern)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": body.Pattern, "invalidatedKeys": invalidated})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deleted, err := s.store.Truncate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": deleted})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy", "activeProgressSinks": s.hub.Active()}
	if s.governor != nil {
		limited, recoverySecs := s.governor.IsRateLimited()
		body["rateLimited"] = limited
		if limited {
			body["recoverySeconds"] = recoverySecs
		}
	}
	if s.monitor != nil {
		body["system"] = s.monitor.Snapshot()
	}
	writeJSON(w, http.StatusOK, body)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
