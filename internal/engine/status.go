// status.go builds the point-in-time snapshot the dashboard and webhook
// collaborators read. Everything is copied; callers never see live state.
package engine

import (
	"bithumb-scalper/internal/risk"
)

// PositionStatus is the dashboard view of one open position.
type PositionStatus struct {
	Symbol         string  `json:"symbol"`
	EntryPrice     float64 `json:"entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	Quantity       float64 `json:"quantity"`
	PnLPct         float64 `json:"pnl_pct"`
	TrailingActive bool    `json:"trailing_active"`
}

// SymbolStatus is the per-symbol surveillance row.
type SymbolStatus struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	OBI    float64 `json:"obi"`
	OFI    float64 `json:"ofi"`
	VPIN   float64 `json:"vpin"`
	Amihud float64 `json:"amihud"`
}

// Status is the full engine snapshot.
type Status struct {
	EngineActive bool             `json:"engine_active"`
	Regime       string           `json:"regime"`
	RealizedVol  float64          `json:"realized_vol"`
	GarchVol     float64          `json:"garch_vol"`
	ForecastVol  float64          `json:"forecast_vol"`
	Positions    []PositionStatus `json:"positions"`
	Surveillance []SymbolStatus   `json:"surveillance"`
	Risk         RiskStatus       `json:"risk"`
}

// RiskStatus is the dashboard view of the risk snapshot.
type RiskStatus struct {
	TotalTrades       int     `json:"total_trades"`
	WinRate           float64 `json:"win_rate"`
	KellyFraction     float64 `json:"kelly_fraction"`
	CVaR95            float64 `json:"cvar_95"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	ActivePositions   int     `json:"active_positions"`
	DailyPnL          float64 `json:"daily_pnl"`
}

// Status returns a copy of the current engine state.
func (e *Engine) Status() Status {
	positions := e.risk.Positions()
	posList := make([]PositionStatus, 0, len(positions))
	for symbol, pos := range positions {
		entry := pos.EntryPrice.InexactFloat64()
		current := e.micro.LastPrice(symbol)
		pnlPct := 0.0
		if entry > 0 && current > 0 {
			pnlPct = (current - entry) / entry
		}
		posList = append(posList, PositionStatus{
			Symbol:         symbol,
			EntryPrice:     entry,
			CurrentPrice:   current,
			Quantity:       pos.Quantity.InexactFloat64(),
			PnLPct:         pnlPct,
			TrailingActive: pos.TrailingActive,
		})
	}

	surveillance := make([]SymbolStatus, 0, len(e.cfg.Symbols))
	for _, symbol := range e.cfg.Symbols {
		obi := e.micro.OBISignal(symbol)
		vpin := e.micro.VPINSignal(symbol)
		surveillance = append(surveillance, SymbolStatus{
			Symbol: symbol,
			Price:  e.micro.LastPrice(symbol),
			OBI:    obi.OBI,
			OFI:    obi.OFI,
			VPIN:   vpin.VPIN,
			Amihud: vpin.Amihud,
		})
	}

	return Status{
		EngineActive: e.feed.IsConnected(),
		Regime:       e.regime.Name(),
		RealizedVol:  e.vol.RealizedVolatility(),
		GarchVol:     e.vol.GarchVolatility(),
		ForecastVol:  e.vol.ForecastVolatility(),
		Positions:    posList,
		Surveillance: surveillance,
		Risk:         riskStatus(e.risk.GetSnapshot()),
	}
}

func riskStatus(s risk.Snapshot) RiskStatus {
	return RiskStatus{
		TotalTrades:       s.TotalTrades,
		WinRate:           s.WinRate,
		KellyFraction:     s.KellyFraction,
		CVaR95:            s.CVaR95,
		ConsecutiveLosses: s.ConsecutiveLosses,
		ActivePositions:   s.ActivePositions,
		DailyPnL:          s.DailyPnL.InexactFloat64(),
	}
}
