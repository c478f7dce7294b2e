// notices.go builds the operator notification messages. The builders are
// pure; delivery is fire-and-forget off the tick path via sendNotice.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bithumb-scalper/internal/risk"
	"bithumb-scalper/internal/signal"
)

// entryNotice describes a filled buy.
func entryNotice(symbol string, d signal.Decision, price, quantity, amount decimal.Decimal) string {
	return fmt.Sprintf("<b>[BUY]</b> %s\nscore: %.2f (%s) conf: %.2f\nprice: %s × %s\namount: %s KRW",
		symbol, d.Score, d.Action, d.Confidence, price, quantity, amount.Round(0))
}

// exitNotice describes a liquidation and its result.
func exitNotice(record risk.TradeRecord, action risk.ExitAction) string {
	return fmt.Sprintf("<b>[SELL]</b> %s (%s)\n%s → %s\nP&L: %s KRW (%.2f%%)",
		record.Symbol, action, record.EntryPrice, record.ExitPrice,
		record.PnL.Round(0), record.PnLPct*100)
}

// dailyReport summarizes the trading day at reset.
func dailyReport(s risk.DailySummary) string {
	return fmt.Sprintf("<b>[daily report]</b>\nP&L: %s KRW (%.2f%%)\ntrades: %d (W%d / L%d)\nCVaR95: %.2f%%",
		s.PnL.Round(0), s.PnLPct*100, s.Trades, s.Wins, s.Losses, s.CVaR*100)
}

// sendNotice delivers a best-effort operator notice without blocking the
// caller. Failures only log.
func (e *Engine) sendNotice(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.notifier.Send(ctx, text); err != nil {
			e.logger.Error("notification failed", "error", err)
		}
	}()
}
