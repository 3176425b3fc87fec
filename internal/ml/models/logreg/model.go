package logreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

type Artifact struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Means        []float64 `json:"means"`
	Stds         []float64 `json:"stds"`
	L2           float64   `json:"l2"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
}

// Model is a batch gradient-descent logistic regression on standardized
// features. Training is deterministic: weights start at zero.
type Model struct {
	opts     TrainOptions
	names    []string
	artifact Artifact
	fitted   bool
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate: 0.05,
		Epochs:       600,
		L2:           0.0001,
	}
}

// New returns an untrained model; use it as an estimator factory product.
func New(featureNames []string, opts TrainOptions) *Model {
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions().LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = DefaultTrainOptions().Epochs
	}
	if opts.L2 < 0 {
		opts.L2 = DefaultTrainOptions().L2
	}
	return &Model{opts: opts, names: append([]string(nil), featureNames...)}
}

func Train(samples [][]float64, labels []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	m := New(featureNames, opts)
	if err := m.Fit(samples, labels); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Fit(samples [][]float64, labels []float64) error {
	if len(samples) == 0 || len(samples) != len(labels) {
		return errors.New("invalid training dataset")
	}
	featCount := len(samples[0])
	if featCount == 0 {
		return errors.New("empty feature vectors")
	}
	for i := range samples {
		if len(samples[i]) != featCount {
			return fmt.Errorf("row %d has %d features, want %d", i, len(samples[i]), featCount)
		}
	}

	means, stds := standardization(samples, featCount)
	xs := make([][]float64, len(samples))
	for i := range samples {
		xs[i] = normalize(samples[i], means, stds)
	}

	weights := make([]float64, featCount)
	bias := 0.0
	n := float64(len(samples))
	grads := make([]float64, featCount)
	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		for j := range grads {
			grads[j] = 0
		}
		gradBias := 0.0
		for i := range xs {
			p := sigmoid(dot(weights, xs[i]) + bias)
			err := p - labels[i]
			for j := range grads {
				grads[j] += err * xs[i][j]
			}
			gradBias += err
		}
		for j := range weights {
			weights[j] -= m.opts.LearningRate * (grads[j]/n + m.opts.L2*weights[j])
		}
		bias -= m.opts.LearningRate * (gradBias / n)
	}
	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.New("logistic regression diverged")
		}
	}

	names := m.names
	if len(names) != featCount {
		names = defaultFeatureNames(featCount)
	}
	m.artifact = Artifact{
		FeatureNames: names,
		Weights:      weights,
		Bias:         bias,
		Means:        means,
		Stds:         stds,
		L2:           m.opts.L2,
		LearningRate: m.opts.LearningRate,
		Epochs:       m.opts.Epochs,
	}
	m.fitted = true
	return nil
}

// Decision returns the raw log-odds for sample.
func (m *Model) Decision(sample []float64) float64 {
	if m == nil || !m.fitted || len(sample) != len(m.artifact.Weights) {
		return 0
	}
	x := normalize(sample, m.artifact.Means, m.artifact.Stds)
	return dot(m.artifact.Weights, x) + m.artifact.Bias
}

func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || !m.fitted || len(sample) != len(m.artifact.Weights) {
		return 0.5
	}
	return sigmoid(m.Decision(sample))
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	probs := make([]float64, len(samples))
	for i := range samples {
		probs[i] = m.PredictProb(samples[i])
	}
	return probs
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || !m.fitted {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.Means) || len(a.Weights) != len(a.Stds) {
		return nil, errors.New("invalid artifact")
	}
	return &Model{
		opts:     TrainOptions{LearningRate: a.LearningRate, Epochs: a.Epochs, L2: a.L2},
		names:    a.FeatureNames,
		artifact: a,
		fitted:   true,
	}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.artifact.FeatureNames))
	copy(out, m.artifact.FeatureNames)
	return out
}

// Sigmoid is the logistic squashing function, clamped for large inputs.
func Sigmoid(x float64) float64 { return sigmoid(x) }

func sigmoid(x float64) float64 {
	if x > 35 {
		return 1
	}
	if x < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

func standardization(samples [][]float64, featCount int) ([]float64, []float64) {
	means := make([]float64, featCount)
	stds := make([]float64, featCount)
	n := float64(len(samples))
	for j := 0; j < featCount; j++ {
		for i := range samples {
			means[j] += finite(samples[i][j])
		}
		means[j] /= n
		for i := range samples {
			d := finite(samples[i][j]) - means[j]
			stds[j] += d * d
		}
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
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

func defaultFeatureNames(n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fmt.Sprintf("f%d", i)
	}
	return out
}
