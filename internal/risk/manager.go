// Package risk enforces the multi-layer trading discipline:
//
//   - Fractional Kelly position sizing (Kelly 1956; Thorp 2006)
//   - Daily CVaR gate at 95% confidence (Rockafellar & Uryasev 2000)
//   - Consecutive-loss circuit breaker with a forced cooldown
//   - Structural limits: max concurrent positions, per-position capital cap,
//     mandatory cash reserve
//   - Volatility-scaled stop-loss and trailing stop per open position
//
// The manager owns the position registry. All state mutations are
// serialized under one mutex, never held across I/O; the atomic
// check-and-register guarantee for entries comes from this lock. Domain
// refusals (cooldown, held symbol, insufficient cash) are return values,
// never errors.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"bithumb-scalper/internal/config"
	"bithumb-scalper/internal/notify"
)

const (
	tradeHistoryCap = 1000
	dailyHistoryCap = 100
	cvarMinSamples  = 10
	rvExitFloor     = 0.005
)

// Position is one open long position. HighestPrice is monotonically
// non-decreasing after open.
type Position struct {
	Symbol         string
	EntryPrice     decimal.Decimal
	Quantity       decimal.Decimal
	EntryTime      time.Time
	HighestPrice   decimal.Decimal
	TrailingActive bool
}

// TradeRecord summarizes one closed trade.
type TradeRecord struct {
	Symbol     string
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	PnL        decimal.Decimal
	PnLPct     float64
	Timestamp  time.Time
}

// ExitAction identifies why a position must be closed.
type ExitAction string

const (
	ExitStopLoss     ExitAction = "stop_loss"
	ExitTrailingStop ExitAction = "trailing_stop"
)

// ExitSignal is returned by EvaluateExit when a position must be closed.
type ExitSignal struct {
	Action       ExitAction
	PnLPct       float64
	StopPrice    float64
	TrailingStop float64
	Highest      float64
}

// DailySummary is the result of the daily reset.
type DailySummary struct {
	PnL    decimal.Decimal
	PnLPct float64
	Trades int
	Wins   int
	Losses int
	CVaR   float64
}

// Snapshot is a copy of the aggregate risk state for dashboards.
type Snapshot struct {
	TotalTrades       int
	WinRate           float64
	KellyFraction     float64
	CVaR95            float64
	ConsecutiveLosses int
	ActivePositions   int
	DailyPnL          decimal.Decimal
	CooldownUntil     time.Time
}

// Manager owns the position registry and the risk state.
type Manager struct {
	cfg      config.RiskConfig
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu                sync.Mutex
	positions         map[string]*Position
	tradeHistory      []TradeRecord // bounded ring of 1000
	dailyTrades       []TradeRecord
	dailyPnL          decimal.Decimal
	dailyPnLHistory   []float64 // daily P&L as a fraction of capital, bounded 100
	consecutiveLosses int
	cooldownUntil     time.Time
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, notifier notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		notifier:  notifier,
		logger:    logger.With("component", "risk"),
		now:       config.Now,
		positions: make(map[string]*Position),
	}
}

// kellyFraction estimates the Fractional Kelly sizing ratio from the trade
// history: f* = (b·p − q)/b with b the payoff ratio. Until enough trades
// exist (or with a one-sided history) the configured fraction itself is the
// placeholder. Caller holds mu.
func (m *Manager) kellyFraction() float64 {
	if len(m.tradeHistory) < m.cfg.KellyMinTrades {
		return m.cfg.KellyFraction
	}

	var winPcts, lossPcts []float64
	for _, t := range m.tradeHistory {
		if t.PnL.IsPositive() {
			winPcts = append(winPcts, t.PnLPct)
		} else {
			lossPcts = append(lossPcts, t.PnLPct)
		}
	}
	if len(winPcts) == 0 || len(lossPcts) == 0 {
		return m.cfg.KellyFraction
	}

	p := float64(len(winPcts)) / float64(len(m.tradeHistory))
	q := 1 - p
	avgWin := stat.Mean(winPcts, nil)
	avgLoss := stat.Mean(lossPcts, nil)
	if avgLoss < 0 {
		avgLoss = -avgLoss
	}
	if avgLoss == 0 {
		return m.cfg.KellyFraction
	}

	b := avgWin / avgLoss
	kelly := (b*p - q) / b
	fractional := kelly * m.cfg.KellyFraction

	if fractional < 0 {
		return 0
	}
	if fractional > m.cfg.MaxSinglePositionRatio {
		return m.cfg.MaxSinglePositionRatio
	}
	return fractional
}

// KellyFraction returns the current sizing ratio.
func (m *Manager) KellyFraction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kellyFraction()
}

// dailyCVaR computes CVaR at 95% over the daily P&L fraction history:
// the mean of the samples at or below the 5th percentile. Returns 0 until
// enough days exist. Caller holds mu.
func (m *Manager) dailyCVaR() float64 {
	if len(m.dailyPnLHistory) < cvarMinSamples {
		return 0
	}

	samples := make([]float64, len(m.dailyPnLHistory))
	copy(samples, m.dailyPnLHistory)
	sort.Float64s(samples)

	varCutoff := stat.Quantile(0.05, stat.LinInterp, samples, nil)

	var tail []float64
	for _, s := range samples {
		if s <= varCutoff {
			tail = append(tail, s)
		}
	}
	if len(tail) == 0 {
		return varCutoff
	}
	return stat.Mean(tail, nil)
}

// DailyCVaR returns the current CVaR₀.₉₅ estimate.
func (m *Manager) DailyCVaR() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyCVaR()
}

// CanEnter runs the entry gate for a symbol and, when allowed, returns the
// maximum KRW amount the position may take. The refusal reason is a
// first-class value; this method never errors.
func (m *Manager) CanEnter(symbol string, availableCash decimal.Decimal, regimeCashRatio float64) (bool, string, decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	zero := decimal.Zero

	if now.Before(m.cooldownUntil) {
		remaining := m.cooldownUntil.Sub(now).Round(time.Second)
		return false, fmt.Sprintf("cooldown (%s remaining)", remaining), zero
	}

	capital := decimal.NewFromFloat(m.cfg.MaxTotalCapital)
	if m.dailyPnL.InexactFloat64()/m.cfg.MaxTotalCapital <= m.cfg.DailyCVaRLimit {
		return false, fmt.Sprintf("daily loss limit reached (%s KRW)", m.dailyPnL.Round(0)), zero
	}

	if len(m.positions) >= m.cfg.MaxConcurrentPositions {
		return false, fmt.Sprintf("max %d concurrent positions", m.cfg.MaxConcurrentPositions), zero
	}

	if _, held := m.positions[symbol]; held {
		return false, fmt.Sprintf("%s already held", symbol), zero
	}

	effectiveReserve := m.cfg.MinCashReserveRatio
	if regimeCashRatio > effectiveReserve {
		effectiveReserve = regimeCashRatio
	}
	investable := availableCash.Sub(capital.Mul(decimal.NewFromFloat(effectiveReserve)))
	if !investable.IsPositive() {
		return false, "cash reserve requirement not met", zero
	}

	maxAmount := decimal.Min(
		investable,
		capital.Mul(decimal.NewFromFloat(m.kellyFraction())),
		capital.Mul(decimal.NewFromFloat(m.cfg.MaxSinglePositionRatio)),
	)

	return true, "ok", maxAmount
}

// Register inserts a new position. Call only after a successful exchange
// acknowledgement.
func (m *Manager) Register(symbol string, entryPrice, quantity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[symbol] = &Position{
		Symbol:       symbol,
		EntryPrice:   entryPrice,
		Quantity:     quantity,
		EntryTime:    m.now(),
		HighestPrice: entryPrice,
	}
	m.logger.Info("position registered",
		"symbol", symbol,
		"entry", entryPrice,
		"qty", quantity,
	)
}

// Close removes a position at the given exit price, records the trade, and
// updates the loss streak. Tripping the circuit breaker starts the cooldown
// and emits an emergency notification. Returns false if no position existed.
func (m *Manager) Close(symbol string, exitPrice decimal.Decimal) (TradeRecord, bool) {
	m.mu.Lock()

	pos, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return TradeRecord{}, false
	}
	delete(m.positions, symbol)

	pnl := exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	pnlPct := exitPrice.Sub(pos.EntryPrice).InexactFloat64() / pos.EntryPrice.InexactFloat64()

	record := TradeRecord{
		Symbol:     symbol,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Timestamp:  m.now(),
	}
	if len(m.tradeHistory) == tradeHistoryCap {
		copy(m.tradeHistory, m.tradeHistory[1:])
		m.tradeHistory = m.tradeHistory[:len(m.tradeHistory)-1]
	}
	m.tradeHistory = append(m.tradeHistory, record)
	m.dailyTrades = append(m.dailyTrades, record)
	m.dailyPnL = m.dailyPnL.Add(pnl)

	var tripped bool
	var reason string
	if pnl.IsNegative() {
		m.consecutiveLosses++
		if m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
			m.cooldownUntil = m.now().Add(m.cfg.Cooldown)
			tripped = true
			reason = fmt.Sprintf("circuit breaker: %d consecutive losses, cooldown %s",
				m.consecutiveLosses, m.cfg.Cooldown)
		}
	} else {
		m.consecutiveLosses = 0
	}

	m.logger.Info("position closed",
		"symbol", symbol,
		"entry", pos.EntryPrice,
		"exit", exitPrice,
		"pnl", pnl.Round(0),
		"pnl_pct", fmt.Sprintf("%.2f%%", pnlPct*100),
	)
	m.mu.Unlock()

	if tripped {
		m.logger.Warn(reason)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.notifier.Emergency(ctx, reason); err != nil {
				m.logger.Error("emergency notification failed", "error", err)
			}
		}()
	}

	return record, true
}

// EvaluateExit checks the stop-loss and trailing stop for a symbol at the
// current price. rv is the realized volatility, trailingMult the regime
// multiplier. Returns nil when no exit is required.
func (m *Manager) EvaluateExit(symbol string, currentPrice decimal.Decimal, rv, trailingMult float64) *ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}

	entry := pos.EntryPrice.InexactFloat64()
	current := currentPrice.InexactFloat64()
	pnlPct := (current - entry) / entry

	if rv < rvExitFloor {
		rv = rvExitFloor
	}

	stopPrice := entry * (1 - m.cfg.StopLossMultiplier*rv)
	if current <= stopPrice {
		return &ExitSignal{Action: ExitStopLoss, PnLPct: pnlPct, StopPrice: stopPrice}
	}

	if currentPrice.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = currentPrice
	}

	if pnlPct >= m.cfg.TrailingActivationPct {
		pos.TrailingActive = true
	}

	if pos.TrailingActive {
		highest := pos.HighestPrice.InexactFloat64()
		trailingStop := highest * (1 - m.cfg.TrailingOffsetMult*rv*trailingMult)
		if current <= trailingStop {
			return &ExitSignal{
				Action:       ExitTrailingStop,
				PnLPct:       pnlPct,
				TrailingStop: trailingStop,
				Highest:      highest,
			}
		}
	}

	return nil
}

// DailyReset archives the day's P&L fraction, clears the daily state, and
// returns the summary.
func (m *Manager) DailyReset() DailySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	pnlPct := m.dailyPnL.InexactFloat64() / m.cfg.MaxTotalCapital
	if len(m.dailyPnLHistory) == dailyHistoryCap {
		copy(m.dailyPnLHistory, m.dailyPnLHistory[1:])
		m.dailyPnLHistory = m.dailyPnLHistory[:len(m.dailyPnLHistory)-1]
	}
	m.dailyPnLHistory = append(m.dailyPnLHistory, pnlPct)

	summary := DailySummary{
		PnL:    m.dailyPnL,
		PnLPct: pnlPct,
		Trades: len(m.dailyTrades),
		CVaR:   m.dailyCVaR(),
	}
	for _, t := range m.dailyTrades {
		if t.PnL.IsPositive() {
			summary.Wins++
		} else {
			summary.Losses++
		}
	}

	m.dailyPnL = decimal.Zero
	m.dailyTrades = nil
	m.consecutiveLosses = 0

	m.logger.Info("daily reset",
		"pnl", summary.PnL.Round(0),
		"pnl_pct", fmt.Sprintf("%.2f%%", summary.PnLPct*100),
		"trades", summary.Trades,
	)
	return summary
}

// HasPosition reports whether a symbol is currently held.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// PositionFor returns a copy of the open position for a symbol.
func (m *Manager) PositionFor(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of all open positions.
func (m *Manager) Positions() map[string]Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Position, len(m.positions))
	for s, p := range m.positions {
		out[s] = *p
	}
	return out
}

// InCooldown reports whether the circuit breaker is currently engaged.
func (m *Manager) InCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.cooldownUntil)
}

// GetSnapshot returns a copy of the aggregate risk state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wins int
	for _, t := range m.tradeHistory {
		if t.PnL.IsPositive() {
			wins++
		}
	}
	winRate := 0.0
	if len(m.tradeHistory) > 0 {
		winRate = float64(wins) / float64(len(m.tradeHistory))
	}

	return Snapshot{
		TotalTrades:       len(m.tradeHistory),
		WinRate:           winRate,
		KellyFraction:     m.kellyFraction(),
		CVaR95:            m.dailyCVaR(),
		ConsecutiveLosses: m.consecutiveLosses,
		ActivePositions:   len(m.positions),
		DailyPnL:          m.dailyPnL,
		CooldownUntil:     m.cooldownUntil,
	}
}
