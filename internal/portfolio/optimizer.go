// Package portfolio allocates weights over selected instruments by projected
// gradient ascent on a mean-variance objective with a turnover penalty.
package portfolio

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Fixed schedule. Results are reproducible because the iteration budget
// does not depend on the data.
const (
	DefaultIterations   = 300
	DefaultLearningRate = 0.1
)

type Options struct {
	RiskAversion    float64 `json:"risk_aversion"`
	TurnoverPenalty float64 `json:"turnover_penalty"`
	// MaxWeight caps every weight. A cap of zero or less allocates nothing.
	MaxWeight    float64 `json:"max_weight"`
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	// Tolerance > 0 stops early once the gradient norm falls to it.
	Tolerance float64 `json:"tolerance"`
}

func DefaultOptions() Options {
	return Options{
		RiskAversion:    5,
		TurnoverPenalty: 0.01,
		MaxWeight:       0.2,
		Iterations:      DefaultIterations,
		LearningRate:    DefaultLearningRate,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.LearningRate <= 0 {
		o.LearningRate = d.LearningRate
	}
	if o.RiskAversion < 0 {
		o.RiskAversion = 0
	}
	if o.TurnoverPenalty < 0 {
		o.TurnoverPenalty = 0
	}
	return o
}

type Weight struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Weights follows the order of the symbols passed to Optimize.
type Weights []Weight

func (w Weights) Sum() float64 {
	s := 0.0
	for _, x := range w {
		s += x.Weight
	}
	return s
}

func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, len(w))
	for _, x := range w {
		out[x.Symbol] = x.Weight
	}
	return out
}

// Solution carries the optimizer trace for diagnostics.
type Solution struct {
	Weights    Weights   `json:"weights"`
	Iterations int       `json:"iterations"`
	Objective  []float64 `json:"-"`
}

func Optimize(mu []float64, cov Covariance, symbols []string, prev map[string]float64, opts Options) Weights {
	return Solve(mu, cov, symbols, prev, opts).Weights
}

// Solve runs the optimizer and records the objective after every step.
func Solve(mu []float64, cov Covariance, symbols []string, prev map[string]float64, opts Options) Solution {
	n := len(symbols)
	if n == 0 {
		return Solution{Weights: Weights{}}
	}
	opts = opts.normalized()
	if !(opts.MaxWeight > 0) {
		sol := Solution{Weights: make(Weights, n)}
		for i, s := range symbols {
			sol.Weights[i] = Weight{Symbol: s}
		}
		return sol
	}

	m := make([]float64, n)
	for i := range m {
		if i < len(mu) && finite(mu[i]) {
			m[i] = mu[i]
		}
	}
	sigma := cov.Align(symbols)
	wPrev := make([]float64, n)
	for i, s := range symbols {
		if v, ok := prev[s]; ok && finite(v) {
			wPrev[i] = v
		}
	}
	w := mat.NewVecDense(n, append([]float64(nil), wPrev...))
	var sw mat.VecDense
	grad := make([]float64, n)

	sol := Solution{Objective: make([]float64, 0, opts.Iterations)}
	for it := 0; it < opts.Iterations; it++ {
		sw.MulVec(sigma, w)
		for i := 0; i < n; i++ {
			grad[i] = m[i] - 2*opts.RiskAversion*sw.AtVec(i) - opts.TurnoverPenalty*sign(w.AtVec(i)-wPrev[i])
		}
		if opts.Tolerance > 0 && floats.Norm(grad, 2) <= opts.Tolerance {
			break
		}
		for i := 0; i < n; i++ {
			w.SetVec(i, w.AtVec(i)+opts.LearningRate*grad[i])
		}
		project(w.RawVector().Data, opts.MaxWeight)
		sol.Iterations++
		sol.Objective = append(sol.Objective, Objective(w.RawVector().Data, m, sigma, wPrev, opts.RiskAversion, opts.TurnoverPenalty))
	}
	project(w.RawVector().Data, opts.MaxWeight)

	sol.Weights = make(Weights, n)
	for i, s := range symbols {
		sol.Weights[i] = Weight{Symbol: s, Weight: w.AtVec(i)}
	}
	return sol
}

// Objective is mu.w - lambda*w'Sw - gamma*|w - prev|_1.
func Objective(w, mu []float64, cov mat.Symmetric, prev []float64, lambda, gamma float64) float64 {
	n := len(w)
	v := mat.NewVecDense(n, append([]float64(nil), w...))
	risk := 0.0
	if cov != nil && cov.SymmetricDim() == n {
		risk = mat.Inner(v, cov, v)
	}
	ret := 0.0
	turnover := 0.0
	for i := 0; i < n; i++ {
		if i < len(mu) {
			ret += mu[i] * w[i]
		}
		p := 0.0
		if i < len(prev) {
			p = prev[i]
		}
		turnover += math.Abs(w[i] - p)
	}
	return ret - lambda*risk - gamma*turnover
}

// project clips to [0, maxW] and shrinks proportionally when the sum
// exceeds one.
func project(w []float64, maxW float64) {
	sum := 0.0
	for i, v := range w {
		switch {
		case !finite(v) || v < 0:
			v = 0
		case v > maxW:
			v = maxW
		}
		w[i] = v
		sum += v
	}
	if sum > 1 {
		for i := range w {
			w[i] /= sum
		}
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
