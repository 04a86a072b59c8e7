// Command server runs the BingX-style asset refresh pipeline: it wires
// configuration, the rate-governed exchange client, the asset store, the
// bulk upsert engine, the progress stream hub, and the refresh
// orchestrator behind the HTTP surface in internal/httpapi.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/config"
	"github.com/adred-codev/bingx-refresh/internal/exchange"
	"github.com/adred-codev/bingx-refresh/internal/httpapi"
	"github.com/adred-codev/bingx-refresh/internal/logging"
	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/adred-codev/bingx-refresh/internal/progress"
	"github.com/adred-codev/bingx-refresh/internal/ratelimit"
	"github.com/adred-codev/bingx-refresh/internal/refresh"
	"github.com/adred-codev/bingx-refresh/internal/store"
	"github.com/adred-codev/bingx-refresh/internal/sysmon"
	"github.com/adred-codev/bingx-refresh/internal/upsert"
	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootLogger := logging.New(logging.Options{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir})
	cfg.LogFields(logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sysMonitor, err := sysmon.New(m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize system monitor")
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	sysMonitor.Start(rootCtx, 10*time.Second)

	governorCfg := ratelimit.DefaultGovernorConfig()
	governorCfg.DevMode = cfg.IsDevelopment()
	governorCfg.Market.Capacity = cfg.MarketBucketCapacity
	governorCfg.Market.RefillInterval = time.Duration(cfg.MarketBucketRefillMs) * time.Millisecond
	governorCfg.Account.Capacity = cfg.AccountBucketCapacity
	governorCfg.Account.RefillInterval = time.Duration(cfg.AccountBucketRefillMs) * time.Millisecond
	governor := ratelimit.New(governorCfg, logger, m)
	governor.SetRecoveryJitter(sysMonitor.RecoveryJitter)
	defer governor.Stop()

	exchangeCfg := exchange.DefaultConfig()
	exchangeCfg.BaseURL = "https://open-api.bingx.com"
	exchangeCfg.DemoURL = "https://open-api-vst.bingx.com"
	exchangeCfg.APIKey = cfg.BingXAPIKey
	exchangeCfg.SecretKey = cfg.BingXSecretKey
	exchangeCfg.DemoMode = cfg.DemoMode
	exchangeClient := exchange.New(exchangeCfg, governor, m, logger)

	assetStore, err := store.Open(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open asset store")
	}
	defer assetStore.Close()

	upsertCfg := upsert.DefaultConfig()
	upsertCfg.BatchSize = cfg.BulkUpsertBatchSize
	upsertEngine := upsert.New(assetStore, upsertCfg, m, logger)

	hub := progress.New(m, logger)

	orchestratorCfg := refresh.DefaultConfig()
	orchestratorCfg.TransformBatchSize = cfg.TransformBatchSize
	orchestratorCfg.TransformConcurrency = cfg.TransformConcurrentBatch
	orchestratorCfg.DeltaFreshnessWindow = time.Duration(cfg.DeltaFreshnessWindowHours) * time.Hour
	orchestrator := refresh.New(exchangeClient, assetStore, upsertEngine, governor.Cache(), hub, m, logger, orchestratorCfg)

	server := httpapi.New(assetStore, orchestrator, hub, governor.Cache(), governor, sysMonitor, logger, cfg.FrontendURL)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        server.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   0, // SSE connections are long-lived; no fixed write deadline.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if cfg.AutoStartBot {
		go func() {
			logger.Info().Msg("AUTO_START_BOT enabled, triggering initial refresh")
			if _, err := orchestrator.RunFull(rootCtx, "startup"); err != nil {
				logging.LogError(logger, err, "initial refresh failed", map[string]any{"sessionId": "startup"})
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancelRoot()
	sysMonitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
