package engine

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bithumb-scalper/internal/risk"
	"bithumb-scalper/internal/signal"
)

func TestEntryNotice(t *testing.T) {
	t.Parallel()

	msg := entryNotice("BTC",
		signal.Decision{Score: 0.72, Action: signal.ActionStrongBuy, Confidence: 0.8},
		decimal.RequireFromString("52000000"),
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("2600000.4"),
	)

	for _, want := range []string{"[BUY]", "BTC", "0.72", "strong_buy", "52000000", "0.05", "2600000 KRW"} {
		if !strings.Contains(msg, want) {
			t.Errorf("entry notice missing %q: %s", want, msg)
		}
	}
}

func TestExitNotice(t *testing.T) {
	t.Parallel()

	msg := exitNotice(risk.TradeRecord{
		Symbol:     "ETH",
		EntryPrice: decimal.RequireFromString("3000000"),
		ExitPrice:  decimal.RequireFromString("2940000"),
		PnL:        decimal.RequireFromString("-30000"),
		PnLPct:     -0.02,
	}, risk.ExitStopLoss)

	for _, want := range []string{"[SELL]", "ETH", "stop_loss", "3000000", "2940000", "-30000", "-2.00%"} {
		if !strings.Contains(msg, want) {
			t.Errorf("exit notice missing %q: %s", want, msg)
		}
	}
}

func TestDailyReport(t *testing.T) {
	t.Parallel()

	msg := dailyReport(risk.DailySummary{
		PnL:    decimal.RequireFromString("125000"),
		PnLPct: 0.0025,
		Trades: 7,
		Wins:   4,
		Losses: 3,
		CVaR:   -0.012,
	})

	for _, want := range []string{"[daily report]", "125000", "0.25%", "7", "W4", "L3", "-1.20%"} {
		if !strings.Contains(msg, want) {
			t.Errorf("daily report missing %q: %s", want, msg)
		}
	}
}
