// Package metrics scores binary probability forecasts.
package metrics

import (
	"math"
	"sort"
)

type Classification struct {
	AUC       float64 `json:"auc"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Brier     float64 `json:"brier"`
	N         int     `json:"n"`
}

// Map flattens the scores for registry metrics JSON.
func (c Classification) Map() map[string]float64 {
	return map[string]float64{
		"auc":       c.AUC,
		"accuracy":  c.Accuracy,
		"precision": c.Precision,
		"recall":    c.Recall,
		"f1":        c.F1,
		"brier":     c.Brier,
		"n":         float64(c.N),
	}
}

// Classify thresholds probs at 0.5. Rows with a NaN probability are ignored.
func Classify(labels []float64, probs []float64) Classification {
	if len(labels) == 0 || len(probs) != len(labels) {
		return Classification{AUC: 0.5}
	}
	var tp, fp, tn, fn, brier float64
	ys := make([]float64, 0, len(labels))
	ps := make([]float64, 0, len(probs))
	for i := range labels {
		if math.IsNaN(probs[i]) {
			continue
		}
		y := labels[i]
		p := Clamp01(probs[i])
		ys = append(ys, y)
		ps = append(ps, p)
		pred := p >= 0.5
		switch {
		case pred && y == 1:
			tp++
		case pred && y == 0:
			fp++
		case !pred && y == 0:
			tn++
		case !pred && y == 1:
			fn++
		}
		d := p - y
		brier += d * d
	}
	n := float64(len(ys))
	if n == 0 {
		return Classification{AUC: 0.5}
	}
	out := Classification{
		AUC:      AUC(ys, ps),
		Accuracy: (tp + tn) / n,
		Brier:    brier / n,
		N:        len(ys),
	}
	if tp+fp > 0 {
		out.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		out.Recall = tp / (tp + fn)
	}
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	return out
}

// AUC is the rank-sum ROC area with tied scores sharing their average rank.
// It is 0.5 when either class is missing.
func AUC(labels []float64, probs []float64) float64 {
	if len(labels) != len(probs) {
		return 0.5
	}
	type pair struct {
		p float64
		y float64
	}
	pairs := make([]pair, len(labels))
	pos := 0.0
	neg := 0.0
	for i := range labels {
		pairs[i] = pair{p: Clamp01(probs[i]), y: labels[i]}
		if labels[i] >= 0.5 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].p < pairs[j].p })

	sumRankPos := 0.0
	rank := 1.0
	for i := 0; i < len(pairs); {
		j := i + 1
		for j < len(pairs) && math.Abs(pairs[j].p-pairs[i].p) < 1e-12 {
			j++
		}
		avgRank := (rank + float64(j)) / 2
		for k := i; k < j; k++ {
			if pairs[k].y >= 0.5 {
				sumRankPos += avgRank
			}
		}
		rank = float64(j + 1)
		i = j
	}
	auc := (sumRankPos - (pos*(pos+1))/2) / (pos * neg)
	if math.IsNaN(auc) || math.IsInf(auc, 0) {
		return 0.5
	}
	return auc
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Ints converts integer labels for the float-based scorers.
func Ints(labels []int) []float64 {
	out := make([]float64, len(labels))
	for i, v := range labels {
		out[i] = float64(v)
	}
	return out
}
