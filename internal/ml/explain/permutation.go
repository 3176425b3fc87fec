// Package explain ranks features by permutation importance.
package explain

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"selective-alpha/internal/ml/metrics"
)

type Predictor interface {
	PredictProb(sample []float64) float64
}

type Options struct {
	Repeats int
	Seed    uint64
}

func DefaultOptions() Options {
	return Options{Repeats: 5, Seed: 42}
}

type Importance struct {
	Feature string  `json:"feature"`
	AUCDrop float64 `json:"auc_drop"`
}

// PermutationImportance is the mean AUC lost when a single column is
// shuffled, sorted from most to least important. A panicking model is
// reported as an error.
func PermutationImportance(model Predictor, samples [][]float64, labels []float64, names []string, opts Options) (out []Importance, err error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid dataset")
	}
	if opts.Repeats <= 0 {
		opts.Repeats = DefaultOptions().Repeats
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("permutation importance: %v", r)
		}
	}()

	width := len(samples[0])
	score := func(x [][]float64) float64 {
		probs := make([]float64, len(x))
		for i := range x {
			probs[i] = model.PredictProb(x[i])
		}
		return metrics.AUC(labels, probs)
	}
	base := score(samples)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	shuffled := make([][]float64, len(samples))
	for i := range samples {
		shuffled[i] = append([]float64(nil), samples[i]...)
	}
	col := make([]float64, len(samples))

	out = make([]Importance, 0, width)
	for j := 0; j < width; j++ {
		for i := range samples {
			col[i] = samples[i][j]
		}
		total := 0.0
		for r := 0; r < opts.Repeats; r++ {
			rng.Shuffle(len(col), func(a, b int) { col[a], col[b] = col[b], col[a] })
			for i := range shuffled {
				shuffled[i][j] = col[i]
			}
			total += base - score(shuffled)
		}
		for i := range shuffled {
			shuffled[i][j] = samples[i][j]
		}
		name := fmt.Sprintf("f%d", j)
		if j < len(names) {
			name = names[j]
		}
		drop := total / float64(opts.Repeats)
		if math.IsNaN(drop) {
			drop = 0
		}
		out = append(out, Importance{Feature: name, AUCDrop: drop})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].AUCDrop > out[b].AUCDrop })
	return out, nil
}
