// Package quantreg fits linear quantile regression by full-batch subgradient
// descent on the pinball loss with a small L1 penalty.
package quantreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	Alpha        float64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate: 0.05,
		Epochs:       800,
		Alpha:        0.0001,
	}
}

type Artifact struct {
	Quantile  float64   `json:"quantile"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
}

type Model struct {
	artifact Artifact
}

func Train(samples [][]float64, targets []float64, q float64, opts TrainOptions) (*Model, error) {
	if q <= 0 || q >= 1 {
		return nil, fmt.Errorf("quantile %.3f outside (0,1)", q)
	}
	if len(samples) == 0 || len(samples) != len(targets) {
		return nil, errors.New("invalid training dataset")
	}
	featCount := len(samples[0])
	if featCount == 0 {
		return nil, errors.New("empty feature vectors")
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions().LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = DefaultTrainOptions().Epochs
	}
	if opts.Alpha < 0 {
		opts.Alpha = DefaultTrainOptions().Alpha
	}

	n := len(samples)
	y := make([]float64, n)
	for i, v := range targets {
		y[i] = finite(v)
	}

	means := make([]float64, featCount)
	stds := make([]float64, featCount)
	col := make([]float64, n)
	for j := 0; j < featCount; j++ {
		for i := range samples {
			if len(samples[i]) != featCount {
				return nil, fmt.Errorf("row %d has %d features, want %d", i, len(samples[i]), featCount)
			}
			col[i] = finite(samples[i][j])
		}
		means[j], stds[j] = stat.PopMeanStdDev(col, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}
	xs := make([][]float64, n)
	for i := range samples {
		xs[i] = normalize(samples[i], means, stds)
	}

	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)
	intercept := stat.Quantile(q, stat.Empirical, sorted, nil)
	weights := make([]float64, featCount)
	grads := make([]float64, featCount)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		lr := opts.LearningRate / math.Sqrt(1+float64(epoch)/50)
		for j := range grads {
			grads[j] = 0
		}
		gradIntercept := 0.0
		for i := range xs {
			g := pinballGrad(y[i]-(floats.Dot(weights, xs[i])+intercept), q)
			floats.AddScaled(grads, g, xs[i])
			gradIntercept += g
		}
		for j := range weights {
			weights[j] -= lr * (grads[j]/float64(n) + opts.Alpha*sign(weights[j]))
		}
		intercept -= lr * gradIntercept / float64(n)
	}
	if math.IsNaN(intercept) || floats.HasNaN(weights) {
		return nil, errors.New("quantile regression diverged")
	}

	return &Model{artifact: Artifact{
		Quantile:  q,
		Weights:   weights,
		Intercept: intercept,
		Means:     means,
		Stds:      stds,
	}}, nil
}

func (m *Model) Quantile() float64 {
	if m == nil {
		return math.NaN()
	}
	return m.artifact.Quantile
}

// Predict returns NaN for a nil model or a sample of the wrong width.
func (m *Model) Predict(sample []float64) float64 {
	if m == nil || len(sample) != len(m.artifact.Weights) {
		return math.NaN()
	}
	return floats.Dot(m.artifact.Weights, normalize(sample, m.artifact.Means, m.artifact.Stds)) + m.artifact.Intercept
}

// Loss is the mean pinball loss of the model on a sample.
func (m *Model) Loss(samples [][]float64, targets []float64) float64 {
	if m == nil || len(samples) == 0 || len(samples) != len(targets) {
		return math.NaN()
	}
	total := 0.0
	for i := range samples {
		total += Pinball(targets[i]-m.Predict(samples[i]), m.artifact.Quantile)
	}
	return total / float64(len(samples))
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.Means) || len(a.Weights) != len(a.Stds) {
		return nil, errors.New("invalid artifact")
	}
	return &Model{artifact: a}, nil
}

// Pinball is the check loss for residual r at quantile q.
func Pinball(r, q float64) float64 {
	if r >= 0 {
		return q * r
	}
	return (q - 1) * r
}

// pinballGrad is the subgradient of the loss with respect to the prediction.
func pinballGrad(r, q float64) float64 {
	switch {
	case r > 0:
		return -q
	case r < 0:
		return 1 - q
	default:
		return 0
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func normalize(in, means, stds []float64) []float64 {
	out := make([]float64, len(in))
	for i := range in {
		out[i] = (finite(in[i]) - means[i]) / stds[i]
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
