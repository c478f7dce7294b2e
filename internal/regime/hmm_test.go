package regime

import (
	"math"
	"math/rand"
	"testing"
)

func TestHMMFitTooFewObservations(t *testing.T) {
	t.Parallel()
	f := NewHMMFitter(3)

	if _, _, err := f.Fit(make([][2]float64, 20)); err == nil {
		t.Error("expected error for short observation series")
	}
}

func TestHMMFitShape(t *testing.T) {
	t.Parallel()
	f := NewHMMFitter(3)

	rng := rand.New(rand.NewSource(42))
	obs := make([][2]float64, 300)
	for i := range obs {
		r := rng.NormFloat64() * 0.01
		obs[i] = [2]float64{r, math.Abs(r)}
	}

	means, last, err := f.Fit(obs)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(means) != 3 {
		t.Fatalf("got %d state means, want 3", len(means))
	}
	if last < 0 || last >= 3 {
		t.Errorf("decoded state %d out of range", last)
	}
	for _, m := range means {
		if math.IsNaN(m) {
			t.Error("state mean is NaN")
		}
	}
}

func TestHMMSeparatesDriftRegimes(t *testing.T) {
	t.Parallel()
	f := NewHMMFitter(3)

	// Three blocks with clearly distinct drifts; the fitted state means must
	// span a range comparable to the drift separation.
	rng := rand.New(rand.NewSource(1))
	obs := make([][2]float64, 0, 600)
	for _, drift := range []float64{0.004, 0.0, -0.004} {
		for i := 0; i < 200; i++ {
			r := drift + rng.NormFloat64()*0.001
			obs = append(obs, [2]float64{r, math.Abs(r)})
		}
	}

	means, last, err := f.Fit(obs)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if last < 0 || last >= 3 {
		t.Errorf("decoded state %d out of range", last)
	}

	lo, hi := means[0], means[0]
	for _, m := range means[1:] {
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	if hi-lo < 0.004 {
		t.Errorf("state means %v do not separate drifts of ±0.004", means)
	}
}

func TestLogSumExp(t *testing.T) {
	t.Parallel()

	got := logSumExp([]float64{math.Log(1), math.Log(2), math.Log(3)})
	want := math.Log(6)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("logSumExp = %f, want %f", got, want)
	}

	// Must not overflow on large inputs.
	got = logSumExp([]float64{1000, 1000})
	want = 1000 + math.Log(2)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("logSumExp large = %f, want %f", got, want)
	}
}
