// Package conformal picks a score threshold so that the cases retained above
// it reach a target empirical precision on a held-out calibration sample.
package conformal

import (
	"math"
	"sort"
)

// DefaultTau excludes every score in [0, 1). It is returned whenever no
// threshold can be certified.
const DefaultTau = 0.999

// Report holds realized selection diagnostics for one threshold.
type Report struct {
	Tau       float64 `json:"tau"`
	Coverage  float64 `json:"coverage"`
	Precision float64 `json:"precision"`
	Samples   int     `json:"samples"`
}

// CalibrateTau scans the distinct calibration scores from the highest down
// and returns the first one whose strict-exceedance mask reaches precision
// 1-eps. This keeps the most selective qualifying threshold.
func CalibrateTau(labels []int, scores []float64, eps float64) float64 {
	if len(labels) == 0 || len(labels) != len(scores) {
		return DefaultTau
	}
	target := 1 - eps
	candidates := distinct(scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(candidates)))
	for _, tau := range candidates {
		prec, n := precision(labels, scores, tau)
		if n == 0 {
			continue
		}
		if !math.IsNaN(prec) && !math.IsInf(prec, 0) && prec >= target {
			return tau
		}
	}
	return DefaultTau
}

// CalibrateTauPermissive scans from the lowest score up and returns the first
// threshold meeting the precision target, i.e. the one with the widest
// coverage. The pipeline does not use it; it answers how much coverage the
// descending scan gives up.
func CalibrateTauPermissive(labels []int, scores []float64, eps float64) float64 {
	if len(labels) == 0 || len(labels) != len(scores) {
		return DefaultTau
	}
	target := 1 - eps
	candidates := distinct(scores)
	sort.Float64s(candidates)
	for _, tau := range candidates {
		prec, n := precision(labels, scores, tau)
		if n == 0 {
			continue
		}
		if !math.IsNaN(prec) && prec >= target {
			return tau
		}
	}
	return DefaultTau
}

// SelectiveMask marks scores strictly above tau.
func SelectiveMask(scores []float64, tau float64) []bool {
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s > tau
	}
	return out
}

// Coverage is the fraction of true entries, 0 for an empty mask.
func Coverage(mask []bool) float64 {
	if len(mask) == 0 {
		return 0
	}
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return float64(n) / float64(len(mask))
}

// PrecisionAtMask is the share of positive labels among scores above tau, NaN
// when nothing passes.
func PrecisionAtMask(labels []int, scores []float64, tau float64) float64 {
	prec, n := precision(labels, scores, tau)
	if n == 0 {
		return math.NaN()
	}
	return prec
}

// Evaluate reports coverage and precision of tau on a labeled sample.
func Evaluate(labels []int, scores []float64, tau float64) Report {
	return Report{
		Tau:       tau,
		Coverage:  Coverage(SelectiveMask(scores, tau)),
		Precision: PrecisionAtMask(labels, scores, tau),
		Samples:   len(scores),
	}
}

func precision(labels []int, scores []float64, tau float64) (float64, int) {
	n, pos := 0, 0
	for i, s := range scores {
		if i >= len(labels) {
			break
		}
		if s > tau {
			n++
			if labels[i] == 1 {
				pos++
			}
		}
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return float64(pos) / float64(n), n
}

func distinct(scores []float64) []float64 {
	seen := make(map[float64]struct{}, len(scores))
	out := make([]float64, 0, len(scores))
	for _, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
