// Package engine is the central orchestrator of the trading pipeline.
//
// It wires together all subsystems:
//
//  1. The exchange feed streams order-book depth and trade ticks.
//  2. Microstructure, volatility, and regime state update on every event.
//  3. On each trade tick the engine evaluates exits first, then entries.
//  4. Entries fuse seven signals through the ensemble, pass the risk gate,
//     and place market orders; fills register positions atomically.
//  5. Background tasks poll funding rates, refit GARCH/HMM models, and run
//     the daily risk reset — all supervised under one errgroup.
//
// A per-symbol entry mutex serializes the entry decision with its order
// placement so bursty tick streams cannot produce duplicate buys; the risk
// manager's own lock provides the check-and-register atomicity.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bithumb-scalper/internal/config"
	"bithumb-scalper/internal/exchange"
	"bithumb-scalper/internal/micro"
	"bithumb-scalper/internal/notify"
	"bithumb-scalper/internal/regime"
	"bithumb-scalper/internal/risk"
	"bithumb-scalper/internal/signal"
	"bithumb-scalper/internal/vol"
	"bithumb-scalper/pkg/types"
)

const (
	heartbeatInterval  = 30 * time.Second
	bootstrapSeedTicks = 100  // closes replayed into vol/regime on startup
	bootstrapPrices    = 1440 // closes seeded into the momentum window
	quantityPrecision  = 8    // Bithumb order unit precision
)

// Engine orchestrates the trading pipeline.
type Engine struct {
	cfg      config.Config
	client   *exchange.Client
	feed     *exchange.Feed
	micro    *micro.Analyzer
	vol      *vol.Model
	regime   *regime.Detector
	ensemble *signal.Ensemble
	risk     *risk.Manager
	notifier notify.Notifier
	logger   *slog.Logger

	// entryMu serializes entry decision + order placement per symbol.
	entryMu map[string]*sync.Mutex

	// targets is the configured symbol set for O(1) membership checks.
	targets map[string]bool

	hbMu          sync.Mutex
	tickCount     int
	lastHeartbeat time.Time

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) *Engine {
	notifier := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)

	e := &Engine{
		cfg:      cfg,
		client:   exchange.NewClient(cfg.Exchange, cfg.DryRun, logger),
		feed:     exchange.NewFeed(cfg.Exchange.WSURL, cfg.Symbols, logger),
		micro:    micro.NewAnalyzer(cfg.Micro),
		vol:      vol.NewModel(cfg.Vol, vol.NewGarchFitter(), logger),
		regime:   regime.NewDetector(cfg.Regime, regime.NewHMMFitter(cfg.Regime.States), logger),
		ensemble: signal.New(cfg.Ensemble, cfg.Binance.RestURL, logger),
		notifier: notifier,
		logger:   logger.With("component", "engine"),
		entryMu:  make(map[string]*sync.Mutex, len(cfg.Symbols)),
		targets:  make(map[string]bool, len(cfg.Symbols)),
	}
	e.risk = risk.NewManager(cfg.Risk, notifier, logger)

	for _, s := range cfg.Symbols {
		e.entryMu[s] = &sync.Mutex{}
		e.targets[s] = true
	}

	e.feed.On(types.EventOrderBookDepth, e.onOrderBook)
	e.feed.On(types.EventTransaction, e.onTransaction)

	return e
}

// Ensemble exposes the sentiment sink for the webhook collaborator.
func (e *Engine) Ensemble() *signal.Ensemble { return e.ensemble }

// Notifier exposes the operator notification channel for collaborators.
func (e *Engine) Notifier() notify.Notifier { return e.notifier }

// Start primes the models from historical candles and launches all
// background loops. Returns immediately after launch.
func (e *Engine) Start() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.group, e.ctx = errgroup.WithContext(e.ctx)

	bootCtx, cancel := context.WithTimeout(e.ctx, time.Minute)
	e.bootstrap(bootCtx)
	cancel()

	e.group.Go(func() error { return e.feed.Run(e.ctx) })
	e.group.Go(func() error { e.vol.RefitLoop(e.ctx); return nil })
	e.group.Go(func() error { e.regime.RefitLoop(e.ctx); return nil })
	e.group.Go(func() error { e.fundingLoop(e.ctx); return nil })
	e.group.Go(func() error { e.dailyResetLoop(e.ctx); return nil })

	e.logger.Info("engine started",
		"symbols", e.cfg.Symbols,
		"regime", e.regime.Name(),
		"rv", e.vol.RealizedVolatility(),
		"dry_run", e.cfg.DryRun,
	)
	return nil
}

// Stop signals all loops and waits for them to drain. In-flight REST calls
// complete or fail naturally.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.feed.Close()
	if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("engine exited with error", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if nerr := e.notifier.Emergency(ctx, "engine exited: "+err.Error()); nerr != nil {
			e.logger.Error("emergency notification failed", "error", nerr)
		}
	}
	e.logger.Info("engine stopped")
}

// bootstrap fetches 1m candles per symbol to prime the momentum window and
// replay recent closes into the volatility and regime models. Failures are
// logged and skipped; the engine starts cold on those symbols.
func (e *Engine) bootstrap(ctx context.Context) {
	e.logger.Info("loading historical candles...")

	for _, symbol := range e.cfg.Symbols {
		candles, err := e.client.Candlestick(ctx, symbol, "1m")
		if err != nil {
			e.logger.Warn("bootstrap candles failed", "symbol", symbol, "error", err)
			continue
		}
		if len(candles) == 0 {
			continue
		}

		closes := make([]float64, 0, len(candles))
		for _, c := range candles {
			if v := c.Close.InexactFloat64(); v > 0 {
				closes = append(closes, v)
			}
		}

		seed := closes
		if len(seed) > bootstrapPrices {
			seed = seed[len(seed)-bootstrapPrices:]
		}
		e.micro.SeedPrices(symbol, seed)

		replay := closes
		if len(replay) > bootstrapSeedTicks {
			replay = replay[len(replay)-bootstrapSeedTicks:]
		}
		for _, p := range replay {
			e.vol.UpdatePrice(p)
			e.regime.UpdatePrice(p)
		}

		e.logger.Debug("bootstrapped symbol", "symbol", symbol, "candles", len(closes))
	}

	e.logger.Info("bootstrap complete")
}

// onOrderBook handles an orderbookdepth frame: split the level list by side
// and refresh OBI/OFI.
func (e *Engine) onOrderBook(content json.RawMessage) error {
	var depth types.DepthContent
	if err := json.Unmarshal(content, &depth); err != nil {
		return err
	}

	symbol := types.BareSymbol(depth.Symbol)
	if !e.targets[symbol] {
		return nil
	}

	var bids, asks []types.OrderBookLevel
	for _, item := range depth.List {
		level := types.OrderBookLevel{Price: item.Price, Quantity: item.Quantity}
		switch item.OrderType {
		case "bid":
			bids = append(bids, level)
		case "ask":
			asks = append(asks, level)
		}
	}

	e.micro.UpdateOrderBook(symbol, bids, asks)
	e.heartbeat()
	return nil
}

// onTransaction handles a transaction frame: every valid tick updates the
// analytics state, then exits are evaluated before entries.
func (e *Engine) onTransaction(content json.RawMessage) error {
	var txs types.TransactionContent
	if err := json.Unmarshal(content, &txs); err != nil {
		return err
	}

	symbol := types.BareSymbol(txs.Symbol)
	if !e.targets[symbol] {
		return nil
	}

	for _, tx := range txs.List {
		side, ok := types.SideFromBithumb(tx.BuySellGb)
		if !ok {
			continue
		}
		tick := types.Tick{
			Symbol:   symbol,
			Price:    tx.ContPrice,
			Quantity: tx.ContQty,
			Side:     side,
			Time:     config.Now(),
		}
		if !tick.Valid() {
			continue
		}

		price := tick.Price.InexactFloat64()
		e.micro.UpdateTrade(symbol, price, tick.Quantity.InexactFloat64(), side)
		e.vol.UpdatePrice(price)
		e.regime.UpdatePrice(price)

		e.checkExit(symbol, tick.Price)
		e.checkEntry(symbol, tick.Price)
	}
	return nil
}

// checkEntry runs the entry decision for a symbol under its entry lock.
func (e *Engine) checkEntry(symbol string, price decimal.Decimal) {
	mu := e.entryMu[symbol]
	mu.Lock()
	defer mu.Unlock()

	if e.risk.HasPosition(symbol) {
		return
	}

	obi := e.micro.OBISignal(symbol)
	vpin := e.micro.VPINSignal(symbol)

	decision := e.ensemble.Compute(signal.Inputs{
		OBI:        obi.Signal,
		VPIN:       vpin.Signal,
		Momentum:   e.ensemble.Momentum(e.micro.Prices(symbol)),
		Regime:     e.regime.Signal(),
		Sentiment:  e.ensemble.SentimentFor(symbol),
		Funding:    e.ensemble.FundingSignal(symbol),
		Volatility: e.vol.Signal(),
	})

	if decision.VPINWarning {
		return
	}
	if decision.Action != signal.ActionBuy && decision.Action != signal.ActionStrongBuy {
		return
	}

	cash := e.availableCash(symbol)
	params := e.regime.Params()
	can, reason, maxAmount := e.risk.CanEnter(symbol, cash, params.CashRatio)
	if !can {
		e.logger.Debug("entry denied", "symbol", symbol, "reason", reason)
		return
	}

	// Regime scaling on top of the risk cap: full Kelly only on strong buys.
	adjusted := maxAmount.Mul(decimal.NewFromFloat(params.KellyMult))
	if decision.Action != signal.ActionStrongBuy {
		adjusted = adjusted.Mul(decimal.NewFromFloat(0.5))
	}

	quantity := adjusted.Div(price).Round(quantityPrecision)
	if !quantity.IsPositive() {
		return
	}

	e.logger.Warn("buy signal",
		"symbol", symbol,
		"score", decision.Score,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"amount", adjusted.Round(0),
		"obi", decision.Components.OBI,
		"vpin", decision.Components.VPIN,
		"momentum", decision.Components.Momentum,
		"regime", e.regime.Name(),
		"volatility", decision.Components.Volatility,
	)

	result, err := e.client.PlaceOrder(e.ctx, types.Order{
		Symbol:   symbol,
		Side:     types.Bid,
		Quantity: quantity,
		Type:     types.OrderTypeMarket,
	})
	if err != nil {
		e.logger.Error("buy order failed", "symbol", symbol, "error", err)
		return
	}
	if !result.OK() {
		e.logger.Error("buy order rejected", "symbol", symbol, "status", result.Status, "message", result.Message)
		return
	}

	e.risk.Register(symbol, price, quantity)
	e.sendNotice(entryNotice(symbol, decision, price, quantity, adjusted))
}

// checkExit evaluates the stop-loss / trailing stop for a held symbol and
// liquidates on a signal.
func (e *Engine) checkExit(symbol string, price decimal.Decimal) {
	if !e.risk.HasPosition(symbol) {
		return
	}

	params := e.regime.Params()
	exit := e.risk.EvaluateExit(symbol, price, e.vol.RealizedVolatility(), params.TrailingMult)
	if exit == nil {
		return
	}

	pos, ok := e.risk.PositionFor(symbol)
	if !ok {
		return
	}

	e.logger.Warn("exit signal",
		"symbol", symbol,
		"action", exit.Action,
		"pnl_pct", exit.PnLPct,
	)

	result, err := e.client.PlaceOrder(e.ctx, types.Order{
		Symbol:   symbol,
		Side:     types.Ask,
		Quantity: pos.Quantity,
		Type:     types.OrderTypeMarket,
	})
	if err != nil {
		e.logger.Error("sell order failed", "symbol", symbol, "error", err)
		return
	}
	if !result.OK() {
		e.logger.Error("sell order rejected", "symbol", symbol, "status", result.Status, "message", result.Message)
		return
	}

	if record, closed := e.risk.Close(symbol, price); closed {
		e.logger.Info("position liquidated",
			"symbol", symbol,
			"action", exit.Action,
			"pnl", record.PnL.Round(0),
			"pnl_pct", record.PnLPct,
		)
		e.sendNotice(exitNotice(record, exit.Action))
	}
}

// availableCash queries the venue for investable KRW. Failures yield zero,
// which the entry gate refuses naturally.
func (e *Engine) availableCash(symbol string) decimal.Decimal {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	balance, err := e.client.Balance(ctx, symbol)
	if err != nil {
		e.logger.Error("balance query failed", "error", err)
		return decimal.Zero
	}
	return balance.AvailableKRW
}

// fundingLoop polls the perpetuals venue for funding rates on a fixed cadence.
func (e *Engine) fundingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Binance.PollInterval)
	defer ticker.Stop()

	poll := func() {
		for _, symbol := range e.cfg.Symbols {
			if err := e.ensemble.FetchFundingRate(ctx, symbol, symbol+"USDT"); err != nil {
				e.logger.Debug("funding rate fetch failed", "symbol", symbol, "error", err)
			}
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// dailyResetLoop runs the risk manager's daily reset at UTC midnight.
func (e *Engine) dailyResetLoop(ctx context.Context) {
	for {
		now := config.Now()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			e.sendNotice(dailyReport(e.risk.DailyReset()))
		}
	}
}

// heartbeat logs a liveness line roughly every 30 seconds of book traffic.
func (e *Engine) heartbeat() {
	e.hbMu.Lock()
	defer e.hbMu.Unlock()

	e.tickCount++
	now := config.Now()
	if e.lastHeartbeat.IsZero() {
		e.lastHeartbeat = now
		return
	}
	if now.Sub(e.lastHeartbeat) < heartbeatInterval {
		return
	}

	e.logger.Info("engine running",
		"ticks", e.tickCount,
		"positions", len(e.risk.Positions()),
		"regime", e.regime.Name(),
		"stream_up", e.feed.IsConnected(),
	)
	e.tickCount = 0
	e.lastHeartbeat = now
}
