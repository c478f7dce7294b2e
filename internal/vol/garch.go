// garch.go fits GARCH(1,1) with Student-t innovations by quasi-MLE.
//
//	σ²_t = ω + α·ε²_{t-1} + β·σ²_{t-1}
//
// Parameters are optimized unconstrained through transforms that keep
// ω > 0, α, β > 0 and α + β < 1 (covariance stationarity), using
// Nelder-Mead. Degrees of freedom are fixed at ν = 4 — the fat-tail
// profile typical of high-frequency crypto returns.
package vol

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const garchNu = 4.0

// GarchFitter is the default Fitter implementation.
type GarchFitter struct{}

// NewGarchFitter returns a Student-t GARCH(1,1) fitter.
func NewGarchFitter() *GarchFitter { return &GarchFitter{} }

// Fit estimates the model on percent-scaled returns.
func (g *GarchFitter) Fit(returnsPct []float64) (FitResult, error) {
	if len(returnsPct) < fitMinReturns {
		return FitResult{}, errors.New("garch: not enough returns")
	}

	variance := stat.Variance(returnsPct, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return FitResult{}, errors.New("garch: degenerate return variance")
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			omega, alpha, beta := garchParams(x)
			return negLogLikelihood(returnsPct, variance, omega, alpha, beta)
		},
	}

	// Start near the common crypto regime: small ω, α≈0.1, β=0.85·(1−α)≈0.77.
	init := []float64{math.Log(variance * 0.05), logit(0.1 / 0.3), logit(0.85 / 0.98)}

	result, err := optimize.Minimize(problem, init, &optimize.Settings{
		MajorIterations: 500,
	}, &optimize.NelderMead{})
	if err != nil {
		return FitResult{}, err
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return FitResult{}, errors.New("garch: likelihood diverged")
	}

	omega, alpha, beta := garchParams(result.X)

	// Final filtered variance and one-step forecast.
	sigma2 := variance
	for _, r := range returnsPct {
		sigma2 = omega + alpha*r*r + beta*sigma2
	}
	last := returnsPct[len(returnsPct)-1]
	forecast := omega + alpha*last*last + beta*sigma2

	if sigma2 <= 0 || forecast <= 0 {
		return FitResult{}, errors.New("garch: non-positive variance")
	}

	return FitResult{
		CurrentVol:  math.Sqrt(sigma2),
		ForecastVol: math.Sqrt(forecast),
	}, nil
}

// garchParams maps the unconstrained optimizer vector to valid
// (ω, α, β): ω > 0, α ∈ (0, 0.3), β ∈ (0, 0.98·(1−α)).
func garchParams(x []float64) (omega, alpha, beta float64) {
	omega = math.Exp(x[0])
	alpha = sigmoid(x[1]) * 0.3
	beta = sigmoid(x[2]) * 0.98 * (1 - alpha)
	return omega, alpha, beta
}

// negLogLikelihood evaluates the negative Student-t log-likelihood of the
// GARCH recursion, seeded with the sample variance.
func negLogLikelihood(returns []float64, seedVar, omega, alpha, beta float64) float64 {
	const nu = garchNu

	lg1, _ := math.Lgamma((nu + 1) / 2)
	lg2, _ := math.Lgamma(nu / 2)
	constTerm := lg1 - lg2 - 0.5*math.Log(math.Pi*(nu-2))

	sigma2 := seedVar
	var nll float64
	for _, r := range returns {
		if sigma2 <= 0 || math.IsNaN(sigma2) {
			return math.Inf(1)
		}
		nll -= constTerm - 0.5*math.Log(sigma2) -
			(nu+1)/2*math.Log(1+r*r/(sigma2*(nu-2)))
		sigma2 = omega + alpha*r*r + beta*sigma2
	}
	return nll
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }
