// Package drift measures distribution shift between two samples of a
// feature.
package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultBins = 10
	MinSamples  = 10
	epsilon     = 1e-9
)

// PSI is the population stability index of actual against the quantile bins
// of expected. NaN when either sample has fewer than MinSamples finite
// values.
func PSI(expected, actual []float64, bins int) float64 {
	if bins <= 0 {
		bins = DefaultBins
	}
	a := finiteSorted(expected)
	b := finiteSorted(actual)
	if len(a) < MinSamples || len(b) < MinSamples {
		return math.NaN()
	}

	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = stat.Quantile(float64(i)/float64(bins), stat.LinInterp, a, nil)
	}
	dividers[0] = math.Inf(-1)
	dividers[bins] = math.Inf(1)

	pa := stat.Histogram(nil, dividers, a, nil)
	pb := stat.Histogram(nil, dividers, b, nil)
	normalize(pa)
	normalize(pb)

	out := 0.0
	for i := range pa {
		out += (pa[i] - pb[i]) * math.Log((pa[i]+epsilon)/(pb[i]+epsilon))
	}
	return out
}

type Feature struct {
	Name string  `json:"name"`
	PSI  float64 `json:"psi"`
}

// Columns computes PSI for every column of two row-major matrices.
func Columns(names []string, expected, actual [][]float64) []Feature {
	out := make([]Feature, len(names))
	for j, name := range names {
		out[j] = Feature{Name: name, PSI: PSI(column(expected, j), column(actual, j), DefaultBins)}
	}
	return out
}

func column(rows [][]float64, j int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if j < len(r) {
			out = append(out, r[j])
		}
	}
	return out
}

func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func normalize(counts []float64) {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	for i := range counts {
		counts[i] /= total + epsilon
	}
}
