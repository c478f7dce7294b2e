package signal

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"bithumb-scalper/internal/config"
)

func testEnsembleConfig() config.EnsembleConfig {
	return config.EnsembleConfig{
		WeightOBI:        0.30,
		WeightVPIN:       0.15,
		WeightMomentum:   0.15,
		WeightRegime:     0.15,
		WeightSentiment:  0.10,
		WeightFunding:    0.10,
		WeightVolatility: 0.05,
		MomentumWindows:  []int{60, 240, 1440, 10080},
		MomentumWeights:  []float64{0.4, 0.3, 0.2, 0.1},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnsemble() *Ensemble {
	return New(testEnsembleConfig(), "http://unused.test", testLogger())
}

func TestComputeAllSignalsPresent(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	d := e.Compute(Inputs{OBI: 1, VPIN: 1, Momentum: 1, Regime: 1, Sentiment: 1, Funding: 1, Volatility: 1})
	if math.Abs(d.Score-1.0) > 1e-9 {
		t.Errorf("score = %f, want 1.0 (weights sum to 1)", d.Score)
	}
	if d.Action != ActionStrongBuy {
		t.Errorf("action = %q, want strong_buy", d.Action)
	}
}

func TestComputeRenormalizesAbsentInputs(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	// With sentiment and funding absent, the remaining weights must rescale
	// back to a unit sum: all-ones on the active inputs scores exactly 1.
	d := e.Compute(Inputs{OBI: 1, VPIN: 1, Momentum: 1, Regime: 1, Sentiment: 0, Funding: 0, Volatility: 1})
	if math.Abs(d.Score-1.0) > 1e-9 {
		t.Errorf("renormalized score = %f, want 1.0", d.Score)
	}
}

func TestComputeMixedFusion(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	// obi=1, vpin=0, momentum=0.5, regime=1, sentiment/funding absent,
	// volatility=0. Active weights {0.30,0.15,0.15,0.15,0.05} sum to 0.80,
	// scale = 1.25 → score = 1.25 × (0.30 + 0.075 + 0.15) = 0.65625.
	d := e.Compute(Inputs{OBI: 1, Momentum: 0.5, Regime: 1})
	want := 0.65625
	if math.Abs(d.Score-want) > 1e-9 {
		t.Errorf("score = %f, want %f", d.Score, want)
	}
	if d.Action != ActionBuy {
		t.Errorf("action = %q, want buy", d.Action)
	}
}

func TestComputeActions(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	// Feed identical values through every input so score == value up to float rounding.
	tests := []struct {
		value float64
		want  Action
	}{
		{0.8, ActionStrongBuy},
		{0.7, ActionStrongBuy},
		{0.6, ActionBuy},
		{0.5, ActionBuy},
		{0.3, ActionHold},
		{0, ActionHold},
		{-0.2, ActionHold},
		{-0.3, ActionSell},
		{-0.5, ActionSell},
		{-0.7, ActionStrongSell},
		{-0.9, ActionStrongSell},
	}
	for _, tt := range tests {
		v := tt.value
		d := e.Compute(Inputs{OBI: v, VPIN: v, Momentum: v, Regime: v, Sentiment: v, Funding: v, Volatility: v})
		if d.Action != tt.want {
			t.Errorf("value %f: action = %q, want %q (score %f)", v, d.Action, tt.want, d.Score)
		}
	}
}

func TestComputeScoreClamped(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	d := e.Compute(Inputs{OBI: 1, VPIN: 1, Momentum: 1, Regime: 1, Volatility: 1})
	if d.Score > 1 || d.Score < -1 {
		t.Errorf("score = %f out of [-1, 1]", d.Score)
	}
}

func TestComputeConfidence(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	tests := []struct {
		name string
		in   Inputs
		want float64
	}{
		{"all five directional positive", Inputs{OBI: 1, Momentum: 1, Regime: 1, Sentiment: 1, Funding: 1}, 1.0},
		{"three positive", Inputs{OBI: 0.5, Momentum: 0.5, Regime: 0.5}, 0.6},
		{"dead band excludes small signals", Inputs{OBI: 0.05, Momentum: -0.05, Regime: 0.09}, 0},
		{"majority wins", Inputs{OBI: 0.5, Momentum: 0.5, Regime: -0.5, Sentiment: 0.5}, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := e.Compute(tt.in)
			if math.Abs(d.Confidence-tt.want) > 1e-9 {
				t.Errorf("confidence = %f, want %f", d.Confidence, tt.want)
			}
		})
	}
}

func TestVPINWarning(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	if d := e.Compute(Inputs{VPIN: -0.9}); !d.VPINWarning {
		t.Error("VPIN -0.9 must warn")
	}
	if d := e.Compute(Inputs{VPIN: -0.5}); d.VPINWarning {
		t.Error("VPIN -0.5 must not warn (strict threshold)")
	}
	if d := e.Compute(Inputs{VPIN: 0}); d.VPINWarning {
		t.Error("VPIN 0 must not warn")
	}
}

func TestMomentum(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	// 240 prices: only the 60- and 240-minute windows are available.
	prices := make([]float64, 240)
	for i := range prices {
		prices[i] = 100
	}
	prices[len(prices)-60] = 100 // 60m ago
	prices[0] = 90               // 240m ago
	prices[len(prices)-1] = 102  // now

	// r60 = 2% → clip(0.2) = 0.2; r240 = 13.33% → clip(1.333) = 1.
	// weighted: (0.4×0.2 + 0.3×1.0)/(0.4+0.3) = 0.38/0.7
	got := e.Momentum(prices)
	want := (0.4*0.2 + 0.3*1.0) / 0.7
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("momentum = %f, want %f", got, want)
	}
}

func TestMomentumNoData(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	if got := e.Momentum(nil); got != 0 {
		t.Errorf("momentum with no prices = %f, want 0", got)
	}
	if got := e.Momentum(make([]float64, 59)); got != 0 {
		t.Errorf("momentum below smallest window = %f, want 0", got)
	}
}

func TestFundingSignalTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want float64
	}{
		{0.004, -1.0},
		{0.002, -0.5},
		{0.001, 0},
		{0.0005, 0},
		{0, 0},
		{-0.0005, 0},
		{-0.002, 0.5},
		{-0.004, 1.0},
	}
	for _, tt := range tests {
		e := newTestEnsemble()
		e.funding["BTC"] = tt.rate
		if got := e.FundingSignal("BTC"); got != tt.want {
			t.Errorf("FundingSignal(rate=%f) = %f, want %f", tt.rate, got, tt.want)
		}
	}
}

func TestFetchFundingRate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/premiumIndex" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","lastFundingRate":"0.00250000"}`))
	}))
	defer srv.Close()

	e := New(testEnsembleConfig(), srv.URL, testLogger())
	if err := e.FetchFundingRate(context.Background(), "BTC", "BTCUSDT"); err != nil {
		t.Fatalf("FetchFundingRate: %v", err)
	}
	if got := e.FundingSignal("BTC"); got != -0.5 {
		t.Errorf("signal after fetch = %f, want -0.5", got)
	}
}

func TestSentimentSlot(t *testing.T) {
	t.Parallel()
	e := newTestEnsemble()

	e.UpdateSentiment("SOL", 0.85)

	if got := e.SentimentFor("SOL"); got != 0.85 {
		t.Errorf("sentiment for target = %f, want 0.85", got)
	}
	if got := e.SentimentFor("BTC"); got != 0 {
		t.Errorf("sentiment for non-target = %f, want 0", got)
	}

	// Only the latest value is kept.
	e.UpdateSentiment("BTC", -2.5)
	if got := e.SentimentFor("SOL"); got != 0 {
		t.Errorf("stale target still active: %f", got)
	}
	if got := e.SentimentFor("BTC"); got != -1.0 {
		t.Errorf("clamped sentiment = %f, want -1.0", got)
	}
}
