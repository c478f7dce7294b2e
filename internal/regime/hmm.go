// hmm.go fits a Gaussian hidden-Markov model by expectation-maximization
// and decodes the most likely final state with Viterbi.
//
// Observations are 2-dimensional (return, |return|); covariances are kept
// diagonal, which is stable on the short windows the detector works with.
// All recursions run in log space to survive the tiny densities that
// high-frequency returns produce.
package regime

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	hmmIterations = 100
	hmmTolerance  = 1e-6
	varianceFloor = 1e-12
)

// HMMFitter is the default Fitter implementation.
type HMMFitter struct {
	states int
}

// NewHMMFitter returns an EM fitter for the given number of hidden states.
func NewHMMFitter(states int) *HMMFitter { return &HMMFitter{states: states} }

// Fit runs EM and returns per-state mean returns plus the Viterbi-decoded
// last state. Errors on degenerate input rather than guessing.
func (h *HMMFitter) Fit(obs [][2]float64) (stateMeans []float64, lastState int, err error) {
	k := h.states
	n := len(obs)
	if n < k*10 {
		return nil, 0, errors.New("hmm: not enough observations")
	}

	m := newModel(k, obs)

	prevLL := math.Inf(-1)
	for iter := 0; iter < hmmIterations; iter++ {
		ll := m.emStep(obs)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return nil, 0, errors.New("hmm: likelihood diverged")
		}
		if math.Abs(ll-prevLL) < hmmTolerance {
			break
		}
		prevLL = ll
	}

	means := make([]float64, k)
	for s := 0; s < k; s++ {
		means[s] = m.mean[s][0]
	}
	return means, m.viterbiLast(obs), nil
}

// model holds HMM parameters: initial distribution, transitions, and
// per-state diagonal Gaussians, all with probabilities in linear space.
type model struct {
	k     int
	pi    []float64
	trans [][]float64
	mean  [][2]float64
	vari  [][2]float64
}

// newModel seeds the states by splitting the return-sorted observations
// into k contiguous groups, which already separates drift regimes well
// enough for EM to converge quickly.
func newModel(k int, obs [][2]float64) *model {
	n := len(obs)

	returns := make([]float64, n)
	for i, o := range obs {
		returns[i] = o[0]
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	m := &model{
		k:     k,
		pi:    make([]float64, k),
		trans: make([][]float64, k),
		mean:  make([][2]float64, k),
		vari:  make([][2]float64, k),
	}

	chunk := n / k
	globalVar := [2]float64{
		math.Max(variance(obs, 0), varianceFloor),
		math.Max(variance(obs, 1), varianceFloor),
	}
	for s := 0; s < k; s++ {
		lo, hi := s*chunk, (s+1)*chunk
		if s == k-1 {
			hi = n
		}
		m.mean[s][0] = stat.Mean(sorted[lo:hi], nil)
		m.mean[s][1] = math.Abs(m.mean[s][0])
		m.vari[s] = globalVar

		m.pi[s] = 1.0 / float64(k)
		m.trans[s] = make([]float64, k)
		for t := 0; t < k; t++ {
			if s == t {
				m.trans[s][t] = 0.9
			} else {
				m.trans[s][t] = 0.1 / float64(k-1)
			}
		}
	}
	return m
}

// logB returns the log density of observation o under state s.
func (m *model) logB(s int, o [2]float64) float64 {
	var ll float64
	for d := 0; d < 2; d++ {
		v := m.vari[s][d]
		diff := o[d] - m.mean[s][d]
		ll += -0.5*math.Log(2*math.Pi*v) - diff*diff/(2*v)
	}
	return ll
}

// emStep runs one forward-backward pass and re-estimates all parameters.
// Returns the data log-likelihood under the pre-update parameters.
func (m *model) emStep(obs [][2]float64) float64 {
	n, k := len(obs), m.k

	logA := make([][]float64, k)
	for i := range logA {
		logA[i] = make([]float64, k)
		for j := range logA[i] {
			logA[i][j] = math.Log(m.trans[i][j])
		}
	}

	// Forward, backward (log space).
	alpha := make([][]float64, n)
	beta := make([][]float64, n)
	for t := range alpha {
		alpha[t] = make([]float64, k)
		beta[t] = make([]float64, k)
	}
	for s := 0; s < k; s++ {
		alpha[0][s] = math.Log(m.pi[s]) + m.logB(s, obs[0])
		beta[n-1][s] = 0
	}
	for t := 1; t < n; t++ {
		for s := 0; s < k; s++ {
			acc := make([]float64, k)
			for p := 0; p < k; p++ {
				acc[p] = alpha[t-1][p] + logA[p][s]
			}
			alpha[t][s] = logSumExp(acc) + m.logB(s, obs[t])
		}
	}
	for t := n - 2; t >= 0; t-- {
		for s := 0; s < k; s++ {
			acc := make([]float64, k)
			for nx := 0; nx < k; nx++ {
				acc[nx] = logA[s][nx] + m.logB(nx, obs[t+1]) + beta[t+1][nx]
			}
			beta[t][s] = logSumExp(acc)
		}
	}
	ll := logSumExp(alpha[n-1])

	// State posteriors γ and transition posteriors ξ (accumulated).
	gamma := make([][]float64, n)
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		for s := 0; s < k; s++ {
			gamma[t][s] = math.Exp(alpha[t][s] + beta[t][s] - ll)
		}
	}
	xiSum := make([][]float64, k)
	for i := range xiSum {
		xiSum[i] = make([]float64, k)
	}
	for t := 0; t < n-1; t++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xiSum[i][j] += math.Exp(alpha[t][i] + logA[i][j] +
					m.logB(j, obs[t+1]) + beta[t+1][j] - ll)
			}
		}
	}

	// M-step.
	for s := 0; s < k; s++ {
		m.pi[s] = math.Max(gamma[0][s], 1e-10)

		var rowSum float64
		for j := 0; j < k; j++ {
			rowSum += xiSum[s][j]
		}
		if rowSum > 0 {
			for j := 0; j < k; j++ {
				m.trans[s][j] = math.Max(xiSum[s][j]/rowSum, 1e-10)
			}
		}

		var weight float64
		var meanAcc [2]float64
		for t := 0; t < n; t++ {
			weight += gamma[t][s]
			meanAcc[0] += gamma[t][s] * obs[t][0]
			meanAcc[1] += gamma[t][s] * obs[t][1]
		}
		if weight > 0 {
			m.mean[s][0] = meanAcc[0] / weight
			m.mean[s][1] = meanAcc[1] / weight

			var varAcc [2]float64
			for t := 0; t < n; t++ {
				d0 := obs[t][0] - m.mean[s][0]
				d1 := obs[t][1] - m.mean[s][1]
				varAcc[0] += gamma[t][s] * d0 * d0
				varAcc[1] += gamma[t][s] * d1 * d1
			}
			m.vari[s][0] = math.Max(varAcc[0]/weight, varianceFloor)
			m.vari[s][1] = math.Max(varAcc[1]/weight, varianceFloor)
		}
	}

	normalize(m.pi)
	for s := 0; s < k; s++ {
		normalize(m.trans[s])
	}

	return ll
}

// viterbiLast decodes the most likely state path and returns its final state.
func (m *model) viterbiLast(obs [][2]float64) int {
	n, k := len(obs), m.k

	delta := make([]float64, k)
	for s := 0; s < k; s++ {
		delta[s] = math.Log(m.pi[s]) + m.logB(s, obs[0])
	}

	next := make([]float64, k)
	for t := 1; t < n; t++ {
		for s := 0; s < k; s++ {
			best := math.Inf(-1)
			for p := 0; p < k; p++ {
				if v := delta[p] + math.Log(m.trans[p][s]); v > best {
					best = v
				}
			}
			next[s] = best + m.logB(s, obs[t])
		}
		copy(delta, next)
	}

	return floats.MaxIdx(delta)
}

func logSumExp(xs []float64) float64 {
	max := floats.Max(xs)
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

func variance(obs [][2]float64, dim int) float64 {
	xs := make([]float64, len(obs))
	for i, o := range obs {
		xs[i] = o[dim]
	}
	return stat.Variance(xs, nil)
}

func normalize(p []float64) {
	sum := floats.Sum(p)
	if sum > 0 {
		floats.Scale(1/sum, p)
	}
}
