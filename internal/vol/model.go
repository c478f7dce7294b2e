// Package vol estimates volatility two ways:
//
//   - Realized volatility (Andersen & Bollerslev 1998): √Σr² over the most
//     recent log-returns, updated on every price.
//   - GARCH(1,1) with Student-t innovations (Katsiampa 2017): refit
//     periodically on a background task, never on the tick path. The fitter
//     is pluggable; when absent only RV is maintained.
package vol

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"bithumb-scalper/internal/config"
)

const (
	rvFloor       = 0.001
	rvMinReturns  = 10
	fitMinReturns = 100
)

// Fitter estimates a GARCH model from percent-scaled returns.
type Fitter interface {
	// Fit receives the return series scaled by 100 and reports conditional
	// and one-step-ahead volatility on the same scale.
	Fit(returnsPct []float64) (FitResult, error)
}

// FitResult carries percent-scaled volatility estimates out of a fit.
type FitResult struct {
	CurrentVol  float64 // conditional volatility at the last observation
	ForecastVol float64 // one-step-ahead forecast
}

// Model holds the rolling return state and the latest volatility estimates.
type Model struct {
	cfg    config.VolConfig
	fitter Fitter // nil disables GARCH
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	prices      []float64
	returns     []float64
	rvWindow    []float64
	currentRV   float64
	garchVol    float64
	forecastVol float64
	lastTrain   time.Time
}

// NewModel creates a volatility model. fitter may be nil.
func NewModel(cfg config.VolConfig, fitter Fitter, logger *slog.Logger) *Model {
	return &Model{
		cfg:         cfg,
		fitter:      fitter,
		logger:      logger.With("component", "vol"),
		now:         config.Now,
		currentRV:   0.01,
		garchVol:    0.01,
		forecastVol: 0.01,
	}
}

// UpdatePrice appends a price, updates the realized volatility, and returns it.
func (m *Model) UpdatePrice(price float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if price <= 0 {
		return m.currentRV
	}

	if n := len(m.prices); n > 0 {
		r := math.Log(price / m.prices[n-1])
		m.returns = appendBounded(m.returns, r, m.cfg.GarchLookback+100)
		m.rvWindow = appendBounded(m.rvWindow, r, m.cfg.RVWindow)

		if len(m.rvWindow) >= rvMinReturns {
			var sum float64
			for _, v := range m.rvWindow {
				sum += v * v
			}
			m.currentRV = math.Max(math.Sqrt(sum), rvFloor)
		}
	}
	m.prices = appendBounded(m.prices, price, m.cfg.GarchLookback+100)

	return m.currentRV
}

// RealizedVolatility returns the current RV estimate.
func (m *Model) RealizedVolatility() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRV
}

// GarchVolatility returns the latest conditional volatility (fractional).
func (m *Model) GarchVolatility() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.garchVol
}

// ForecastVolatility returns the one-step-ahead GARCH forecast (fractional).
func (m *Model) ForecastVolatility() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forecastVol
}

// Signal maps realized volatility onto a step-function position signal:
// extreme volatility argues against adding exposure, calm markets allow it.
func (m *Model) Signal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.currentRV >= 0.05:
		return -1.0
	case m.currentRV >= 0.03:
		return -0.5
	case m.currentRV >= 0.01:
		return 0
	default:
		return 0.5
	}
}

// RefitLoop periodically refits the GARCH model off the tick path and swaps
// the estimates in under the lock. Returns when ctx is cancelled.
func (m *Model) RefitLoop(ctx context.Context) {
	if m.fitter == nil {
		m.logger.Warn("no GARCH fitter configured, realized volatility only")
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maybeRefit()
		}
	}
}

func (m *Model) maybeRefit() {
	m.mu.Lock()
	due := m.now().Sub(m.lastTrain) >= m.cfg.RetrainInterval && len(m.returns) >= fitMinReturns
	var sample []float64
	if due {
		tail := m.returns
		if len(tail) > m.cfg.GarchLookback {
			tail = tail[len(tail)-m.cfg.GarchLookback:]
		}
		sample = make([]float64, len(tail))
		for i, r := range tail {
			sample[i] = r * 100
		}
	}
	m.mu.Unlock()

	if !due {
		return
	}

	res, err := m.fitter.Fit(sample)
	if err != nil {
		// Keep the previous estimates; only the train clock advances.
		m.logger.Error("GARCH fit failed", "error", err)
		m.mu.Lock()
		m.lastTrain = m.now()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.garchVol = res.CurrentVol / 100
	m.forecastVol = math.Max(res.ForecastVol/100, rvFloor)
	m.lastTrain = m.now()
	m.mu.Unlock()

	m.logger.Info("GARCH refit",
		"garch_vol", res.CurrentVol/100,
		"forecast_vol", res.ForecastVol/100,
		"samples", len(sample),
	)
}

func appendBounded(buf []float64, v float64, max int) []float64 {
	if len(buf) == max {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, v)
}
