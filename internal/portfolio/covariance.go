package portfolio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Covariance is a labelled covariance matrix. A nil Values matrix is all
// zeros.
type Covariance struct {
	Symbols []string
	Values  *mat.SymDense
}

// Align reorders the matrix to symbols; pairs it does not cover are 0.
func (c Covariance) Align(symbols []string) *mat.SymDense {
	n := len(symbols)
	if n == 0 {
		return nil
	}
	out := mat.NewSymDense(n, nil)
	if c.Values == nil {
		return out
	}
	idx := make(map[string]int, len(c.Symbols))
	for i, s := range c.Symbols {
		if i < c.Values.SymmetricDim() {
			idx[s] = i
		}
	}
	for i := 0; i < n; i++ {
		a, ok := idx[symbols[i]]
		if !ok {
			continue
		}
		for j := i; j < n; j++ {
			b, ok := idx[symbols[j]]
			if !ok {
				continue
			}
			if v := c.Values.At(a, b); finite(v) {
				out.SetSym(i, j, v)
			}
		}
	}
	return out
}

func (c Covariance) At(a, b string) float64 {
	m := c.Align([]string{a, b})
	return m.At(0, 1)
}

// EstimateCovariance is the sample covariance of the trailing lookback
// one-bar returns, scaled to the forecast horizon. Series are aligned on
// their last value; rows with a non-finite return in any series are dropped.
// Fewer than two usable rows give a zero matrix.
func EstimateCovariance(returns map[string][]float64, symbols []string, lookback, horizon int) Covariance {
	n := len(symbols)
	out := Covariance{Symbols: append([]string(nil), symbols...)}
	if n == 0 {
		return out
	}
	out.Values = mat.NewSymDense(n, nil)
	rows := math.MaxInt
	for _, s := range symbols {
		rows = min(rows, len(returns[s]))
	}
	if lookback > 0 {
		rows = min(rows, lookback)
	}
	if rows < 2 {
		return out
	}

	data := make([]float64, 0, rows*n)
	kept := 0
	for r := 0; r < rows; r++ {
		row := make([]float64, n)
		ok := true
		for j, s := range symbols {
			series := returns[s]
			v := series[len(series)-rows+r]
			if !finite(v) {
				ok = false
				break
			}
			row[j] = v
		}
		if ok {
			data = append(data, row...)
			kept++
		}
	}
	if kept < 2 {
		return out
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(kept, n, data), nil)
	if horizon > 1 {
		cov.ScaleSym(float64(horizon), &cov)
	}
	out.Values = &cov
	return out
}

// HistoricalVaR is the loss at the alpha quantile of the weighted
// portfolio's past one-bar returns, reported as a positive number. NaN when
// there is no history.
func HistoricalVaR(weights Weights, returns map[string][]float64, alpha float64) float64 {
	if len(weights) == 0 || alpha <= 0 || alpha >= 1 {
		return math.NaN()
	}
	rows := math.MaxInt
	for _, w := range weights {
		rows = min(rows, len(returns[w.Symbol]))
	}
	if rows == 0 || rows == math.MaxInt {
		return math.NaN()
	}
	pnl := make([]float64, 0, rows)
	for r := 0; r < rows; r++ {
		total := 0.0
		ok := true
		for _, w := range weights {
			series := returns[w.Symbol]
			v := series[len(series)-rows+r]
			if !finite(v) {
				ok = false
				break
			}
			total += w.Weight * v
		}
		if ok {
			pnl = append(pnl, total)
		}
	}
	if len(pnl) == 0 {
		return math.NaN()
	}
	sort.Float64s(pnl)
	return -stat.Quantile(alpha, stat.Empirical, pnl, nil)
}
