// Package signal fuses the individual indicators into one directional score.
//
// Seven inputs are combined by weighted sum: OBI, VPIN, time-series momentum
// (Moskowitz, Ooi & Pedersen 2012), regime, sentiment, funding rate, and
// volatility. Sentiment and funding are externally sourced and may be
// absent; an input of exactly 0.0 is treated as absent and its weight is
// redistributed multiplicatively across the remaining inputs. A genuine
// zero signal is therefore indistinguishable from absence — intentional,
// flagged for review.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"bithumb-scalper/internal/config"
)

// Action is the trading decision derived from the fused score.
type Action string

const (
	ActionStrongBuy  Action = "strong_buy"
	ActionBuy        Action = "buy"
	ActionHold       Action = "hold"
	ActionSell       Action = "sell"
	ActionStrongSell Action = "strong_sell"
)

// Inputs are the seven component signals, each already in [-1, 1].
type Inputs struct {
	OBI        float64
	VPIN       float64
	Momentum   float64
	Regime     float64
	Sentiment  float64
	Funding    float64
	Volatility float64
}

// Decision is the fused output.
type Decision struct {
	Score       float64
	Action      Action
	Confidence  float64
	VPINWarning bool
	Components  Inputs
}

// Ensemble owns the sentiment slot and the funding-rate map, and performs
// momentum calculation and score fusion. Writes go through the mutex; the
// dead-band and fusion math are pure.
type Ensemble struct {
	cfg    config.EnsembleConfig
	http   *resty.Client
	logger *slog.Logger

	mu              sync.RWMutex
	sentimentScore  float64
	sentimentTarget string
	funding         map[string]float64 // bare symbol → last funding rate
}

// New creates an ensemble. binanceURL is the perpetual-futures REST base
// used for funding rates.
func New(cfg config.EnsembleConfig, binanceURL string, logger *slog.Logger) *Ensemble {
	return &Ensemble{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(binanceURL).
			SetTimeout(5 * time.Second),
		logger:  logger.With("component", "ensemble"),
		funding: make(map[string]float64),
	}
}

// UpdateSentiment stores the latest externally-pushed sentiment score for a
// target symbol, clamped to [-1, 1]. Only the latest value is kept.
func (e *Ensemble) UpdateSentiment(symbol string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sentimentTarget = symbol
	e.sentimentScore = clamp(score, -1, 1)
	e.logger.Info("sentiment updated", "symbol", symbol, "score", e.sentimentScore)
}

// SentimentFor returns the sentiment signal for a symbol: the shared slot
// applies only when its target matches.
func (e *Ensemble) SentimentFor(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.sentimentTarget == symbol {
		return e.sentimentScore
	}
	return 0
}

// Sentiment returns the current slot contents (target, score).
func (e *Ensemble) Sentiment() (string, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sentimentTarget, e.sentimentScore
}

// FetchFundingRate polls the perpetuals venue for a symbol's funding rate
// and stores it under the bare spot symbol. Failures keep the old value.
func (e *Ensemble) FetchFundingRate(ctx context.Context, bare, perpSymbol string) error {
	var out struct {
		LastFundingRate float64 `json:"lastFundingRate,string"`
	}
	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", perpSymbol).
		SetResult(&out).
		Get("/fapi/v1/premiumIndex")
	if err != nil {
		return fmt.Errorf("funding rate %s: %w", perpSymbol, err)
	}
	if resp.IsError() {
		return fmt.Errorf("funding rate %s: status %d", perpSymbol, resp.StatusCode())
	}

	e.mu.Lock()
	e.funding[bare] = out.LastFundingRate
	e.mu.Unlock()
	return nil
}

// FundingSignal converts the stored funding rate into a contrarian signal:
// crowded longs (high positive funding) warn of a squeeze down, and vice versa.
func (e *Ensemble) FundingSignal(symbol string) float64 {
	e.mu.RLock()
	rate := e.funding[symbol]
	e.mu.RUnlock()

	switch {
	case rate > 0.003:
		return -1.0
	case rate > 0.001:
		return -0.5
	case rate < -0.003:
		return 1.0
	case rate < -0.001:
		return 0.5
	default:
		return 0
	}
}

// Momentum computes the time-series momentum signal from a price window
// sampled at roughly one point per minute. Each lookback's return is
// clipped at ±10% and the available windows are weight-averaged; with no
// window available the signal is 0.
func (e *Ensemble) Momentum(prices []float64) float64 {
	var total, weightSum float64
	for i, w := range e.cfg.MomentumWindows {
		if len(prices) < w {
			continue
		}
		past := prices[len(prices)-w]
		if past <= 0 {
			continue
		}
		ret := (prices[len(prices)-1] - past) / past
		total += clamp(ret*10, -1, 1) * e.cfg.MomentumWeights[i]
		weightSum += e.cfg.MomentumWeights[i]
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// Compute fuses the component signals into the final decision.
func (e *Ensemble) Compute(in Inputs) Decision {
	wOBI := e.cfg.WeightOBI
	wVPIN := e.cfg.WeightVPIN
	wMom := e.cfg.WeightMomentum
	wReg := e.cfg.WeightRegime
	wSent := e.cfg.WeightSentiment
	wFund := e.cfg.WeightFunding
	wVol := e.cfg.WeightVolatility

	// Absent (exactly zero) sentiment/funding give their weight to the
	// remaining inputs, preserving a unit total.
	var missing float64
	if in.Sentiment == 0 {
		missing += wSent
		wSent = 0
	}
	if in.Funding == 0 {
		missing += wFund
		wFund = 0
	}
	if missing > 0 {
		active := wOBI + wVPIN + wMom + wReg + wVol
		if active > 0 {
			scale := 1 + missing/active
			wOBI *= scale
			wVPIN *= scale
			wMom *= scale
			wReg *= scale
			wVol *= scale
		}
	}

	score := wOBI*in.OBI + wVPIN*in.VPIN + wMom*in.Momentum + wReg*in.Regime +
		wSent*in.Sentiment + wFund*in.Funding + wVol*in.Volatility

	var action Action
	switch {
	case score >= 0.7:
		action = ActionStrongBuy
	case score >= 0.5:
		action = ActionBuy
	case score <= -0.7:
		action = ActionStrongSell
	case score <= -0.3:
		action = ActionSell
	default:
		action = ActionHold
	}

	// Confidence: directional agreement among the five directional inputs,
	// with a ±0.1 dead-band.
	directional := []float64{in.OBI, in.Momentum, in.Regime, in.Sentiment, in.Funding}
	var pos, neg int
	for _, s := range directional {
		if s > 0.1 {
			pos++
		} else if s < -0.1 {
			neg++
		}
	}
	confidence := 0.0
	if pos+neg > 0 {
		confidence = float64(max(pos, neg)) / float64(len(directional))
	}

	return Decision{
		Score:       clamp(score, -1, 1),
		Action:      action,
		Confidence:  confidence,
		VPINWarning: in.VPIN < -0.5,
		Components:  in,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
