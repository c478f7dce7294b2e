// Package regime classifies the market into BULLISH / SIDEWAYS / BEARISH
// with a three-state Gaussian HMM over (return, |return|) observations
// (Giudici & Abu-Hashish 2020). Each regime carries strategy parameters
// that scale Kelly sizing, the cash reserve, and the trailing-stop offset.
//
// Refitting is wall-clock driven on a background task; the tick path only
// appends prices. Before the first successful fit the regime is SIDEWAYS.
package regime

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"bithumb-scalper/internal/config"
)

// Canonical regime indices, ordered by descending mean return.
const (
	Bullish  = 0
	Sideways = 1
	Bearish  = 2
)

const (
	fitMinPrices = 120
	historyCap   = 1000
)

// Params are the per-regime strategy multipliers.
type Params struct {
	Name         string
	KellyMult    float64
	CashRatio    float64
	TrailingMult float64
}

var regimeParams = map[int]Params{
	Bullish:  {Name: "BULLISH", KellyMult: 1.00, CashRatio: 0.20, TrailingMult: 2.0},
	Sideways: {Name: "SIDEWAYS", KellyMult: 0.50, CashRatio: 0.40, TrailingMult: 1.5},
	Bearish:  {Name: "BEARISH", KellyMult: 0.25, CashRatio: 0.80, TrailingMult: 1.0},
}

// Fitter estimates a hidden-Markov model from (return, |return|) rows and
// reports its per-state mean returns and raw last hidden state; the
// Detector canonicalizes that state.
type Fitter interface {
	// Fit returns the model's per-state mean returns and the decoded last
	// state index, before canonicalization.
	Fit(obs [][2]float64) (stateMeans []float64, lastState int, err error)
}

// Detector holds the rolling price window and the current regime.
type Detector struct {
	cfg    config.RegimeConfig
	fitter Fitter // nil disables refitting
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	prices    []float64
	current   int
	history   []int
	lastTrain time.Time
}

// NewDetector creates a detector. fitter may be nil.
func NewDetector(cfg config.RegimeConfig, fitter Fitter, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		fitter:  fitter,
		logger:  logger.With("component", "regime"),
		now:     config.Now,
		current: Sideways,
	}
}

// UpdatePrice appends a minute-scale price sample.
func (d *Detector) UpdatePrice(price float64) {
	if price <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	max := d.cfg.LookbackHours * 60
	if len(d.prices) == max {
		copy(d.prices, d.prices[1:])
		d.prices = d.prices[:len(d.prices)-1]
	}
	d.prices = append(d.prices, price)
}

// Current returns the regime index.
func (d *Detector) Current() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Name returns the regime name.
func (d *Detector) Name() string {
	return regimeParams[d.Current()].Name
}

// Params returns the strategy parameters for the current regime.
func (d *Detector) Params() Params {
	return regimeParams[d.Current()]
}

// Signal maps the regime to a directional signal: +1 / 0 / −1.
func (d *Detector) Signal() float64 {
	switch d.Current() {
	case Bullish:
		return 1.0
	case Bearish:
		return -1.0
	default:
		return 0
	}
}

// RefitLoop refits the HMM on schedule, off the tick path, swapping the
// regime in under the lock. Returns when ctx is cancelled.
func (d *Detector) RefitLoop(ctx context.Context) {
	if d.fitter == nil {
		d.logger.Warn("no HMM fitter configured, regime stays SIDEWAYS")
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.maybeRefit()
		}
	}
}

func (d *Detector) maybeRefit() {
	d.mu.Lock()
	due := d.now().Sub(d.lastTrain) >= d.cfg.RetrainInterval && len(d.prices) >= fitMinPrices
	var prices []float64
	if due {
		prices = make([]float64, len(d.prices))
		copy(prices, d.prices)
	}
	d.mu.Unlock()

	if !due {
		return
	}

	obs := observations(prices)
	if len(obs) < fitMinPrices/2 {
		return
	}

	means, last, err := d.fitter.Fit(obs)
	if err != nil {
		// Previous regime stays in effect until the next successful fit.
		d.logger.Error("HMM fit failed", "error", err)
		d.mu.Lock()
		d.lastTrain = d.now()
		d.mu.Unlock()
		return
	}

	regime := canonicalize(means, last)

	d.mu.Lock()
	d.current = regime
	if len(d.history) == historyCap {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, regime)
	d.lastTrain = d.now()
	d.mu.Unlock()

	d.logger.Info("HMM refit",
		"regime", regimeParams[regime].Name,
		"observations", len(obs),
	)
}

// observations builds (log-return, |log-return|) rows from a price series.
func observations(prices []float64) [][2]float64 {
	obs := make([][2]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		r := math.Log(prices[i] / prices[i-1])
		obs = append(obs, [2]float64{r, math.Abs(r)})
	}
	return obs
}

// canonicalize relabels raw HMM states by descending mean return so that
// index 0 is always the highest-drift state (BULLISH) and 2 the lowest.
func canonicalize(stateMeans []float64, rawState int) int {
	rank := 0
	for i, m := range stateMeans {
		if i == rawState {
			continue
		}
		if m > stateMeans[rawState] || (m == stateMeans[rawState] && i < rawState) {
			rank++
		}
	}
	if rank > Bearish {
		return Bearish
	}
	return rank
}
