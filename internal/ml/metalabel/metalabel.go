// Package metalabel trains a secondary classifier that predicts whether a
// directional call will be confirmed by the realized barrier outcome.
package metalabel

import (
	"errors"
	"fmt"
	"math"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/metrics"
	"selective-alpha/internal/ml/models/xgboost"
)

// Direction maps a probability to a call: +1 above 0.5, -1 otherwise and 0
// when the probability is unknown.
func Direction(prob float64) int {
	if math.IsNaN(prob) {
		return 0
	}
	if prob > 0.5 {
		return 1
	}
	return -1
}

func Directions(probs []float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		out[i] = Direction(p)
	}
	return out
}

// Labels is 1 where signal and barrier share a strict sign. A barrier label
// of 0 never confirms. Rows past the end of signal get 0.
func Labels(signal []int, barrier []int) []int {
	out := make([]int, len(barrier))
	for i, b := range barrier {
		if i >= len(signal) {
			break
		}
		s := signal[i]
		if (s > 0 && b > 0) || (s < 0 && b < 0) {
			out[i] = 1
		}
	}
	return out
}

type Model struct {
	clf      *xgboost.Model
	TrainAUC float64
}

// Train fits the meta classifier on base features. A target with a single
// class is insufficient data, not an error.
func Train(samples [][]float64, labels []int, names []string, opts xgboost.TrainOptions) (m *Model, outcome domain.FitOutcome) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, domain.InsufficientData("meta-label rows=%d labels=%d", len(samples), len(labels))
	}
	defer func() {
		if r := recover(); r != nil {
			m, outcome = nil, domain.NumericalFailure(fmt.Errorf("meta model panicked: %v", r))
		}
	}()

	y := metrics.Ints(labels)
	clf := xgboost.New(names, opts)
	if err := clf.Fit(samples, y); err != nil {
		if errors.Is(err, xgboost.ErrSingleClass) {
			return nil, domain.InsufficientData("meta-label target has a single class")
		}
		return nil, domain.NumericalFailure(err)
	}
	return &Model{clf: clf, TrainAUC: metrics.AUC(y, clf.PredictBatch(samples))}, domain.Fitted()
}

// PredictProb is NaN on a nil model so gates fail closed.
func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || m.clf == nil {
		return math.NaN()
	}
	return m.clf.PredictProb(sample)
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil meta model")
	}
	return m.clf.MarshalBinary()
}

const ArtifactFormat = "json/boo-xgboost-v1"
