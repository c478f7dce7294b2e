// Bithumb Scalper — a real-time algorithmic trading engine for the Bithumb
// spot exchange, driven by market-microstructure signals.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires stream → analytics → ensemble → risk → orders
//	exchange/client.go   — Bithumb REST client (public reads + HMAC-SHA512 signed trading)
//	exchange/ws.go       — streaming feed (orderbook depth + transactions) with auto-reconnect
//	micro/micro.go       — OBI, OFI, VPIN, and Amihud illiquidity per symbol
//	vol/model.go         — realized volatility + periodic GARCH(1,1) refits
//	regime/detector.go   — 3-state Gaussian HMM market-regime classification
//	signal/ensemble.go   — weighted fusion of seven signals into one score
//	risk/manager.go      — Kelly sizing, CVaR gate, circuit breaker, trailing stops
//	api/server.go        — status snapshot + sentiment webhook for collaborators
//
// How it trades:
//
//	Order-book and trade streams feed per-symbol microstructure statistics.
//	On every tick the ensemble fuses imbalance, flow toxicity, momentum,
//	regime, sentiment, funding, and volatility into one score. Scores above
//	the buy threshold pass through the risk gate (Kelly-sized, CVaR-capped,
//	circuit-breaker-guarded) and become market orders. Open positions ride a
//	volatility-scaled trailing stop.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bithumb-scalper/internal/api"
	"bithumb-scalper/internal/config"
	"bithumb-scalper/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BITHUMB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng := engine.New(*cfg, logger)

	// Start collaborator API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, eng.Ensemble(), eng.Notifier(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("bithumb scalper started",
		"symbols", cfg.Symbols,
		"max_positions", cfg.Risk.MaxConcurrentPositions,
		"max_capital", cfg.Risk.MaxTotalCapital,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
