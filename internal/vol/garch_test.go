package vol

import (
	"math"
	"math/rand"
	"testing"
)

func TestGarchFitTooFewReturns(t *testing.T) {
	t.Parallel()
	g := NewGarchFitter()

	if _, err := g.Fit(make([]float64, 50)); err == nil {
		t.Error("expected error for short return series")
	}
}

func TestGarchFitDegenerateVariance(t *testing.T) {
	t.Parallel()
	g := NewGarchFitter()

	if _, err := g.Fit(make([]float64, 300)); err == nil {
		t.Error("expected error for zero-variance returns")
	}
}

func TestGarchFitProducesPositiveVols(t *testing.T) {
	t.Parallel()
	g := NewGarchFitter()

	// Synthetic returns with volatility clustering: calm then stormy blocks.
	rng := rand.New(rand.NewSource(7))
	returns := make([]float64, 500)
	for i := range returns {
		scale := 0.5
		if (i/100)%2 == 1 {
			scale = 2.0
		}
		returns[i] = rng.NormFloat64() * scale
	}

	res, err := g.Fit(returns)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.CurrentVol <= 0 || math.IsNaN(res.CurrentVol) {
		t.Errorf("current vol = %f, want > 0", res.CurrentVol)
	}
	if res.ForecastVol <= 0 || math.IsNaN(res.ForecastVol) {
		t.Errorf("forecast vol = %f, want > 0", res.ForecastVol)
	}
}

func TestGarchParamsStationary(t *testing.T) {
	t.Parallel()

	// Any optimizer vector must map into the stationarity region.
	vectors := [][]float64{
		{0, 0, 0},
		{10, 10, 10},
		{-10, -10, -10},
		{3, -5, 8},
	}
	for _, x := range vectors {
		omega, alpha, beta := garchParams(x)
		if omega <= 0 {
			t.Errorf("omega = %f, want > 0", omega)
		}
		if alpha < 0 || beta < 0 || alpha+beta >= 1 {
			t.Errorf("alpha=%f beta=%f violate stationarity", alpha, beta)
		}
	}
}
