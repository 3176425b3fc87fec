// Package quantile fits one linear quantile regressor per level and turns
// their forecasts into a take/skip decision.
//
// The regressors are fitted on the full chronological history without a
// temporal split. That is an accepted simplification: the forecasts feed a
// gate, not a certified estimate.
package quantile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/models/quantreg"

	"golang.org/x/sync/errgroup"
)

const (
	Low    = 0.1
	Median = 0.5
	High   = 0.9
)

var Levels = []float64{Low, Median, High}

// Models maps a level to its fitted regressor. Levels whose fit failed are
// absent.
type Models map[float64]*quantreg.Model

type LevelOutcome struct {
	Level   float64           `json:"level"`
	Outcome domain.FitOutcome `json:"outcome"`
}

// Fit trains every level concurrently. Non-finite targets are dropped first.
func Fit(ctx context.Context, samples [][]float64, targets []float64, levels []float64, opts quantreg.TrainOptions) (Models, []LevelOutcome) {
	x := make([][]float64, 0, len(samples))
	y := make([]float64, 0, len(targets))
	for i := range samples {
		if i >= len(targets) || math.IsNaN(targets[i]) || math.IsInf(targets[i], 0) {
			continue
		}
		x = append(x, samples[i])
		y = append(y, targets[i])
	}

	fitted := make([]*quantreg.Model, len(levels))
	outcomes := make([]LevelOutcome, len(levels))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range levels {
		i, q := i, q
		g.Go(func() error {
			outcomes[i].Level = q
			if err := gctx.Err(); err != nil {
				outcomes[i].Outcome = domain.NumericalFailure(err)
				return nil
			}
			if len(x) == 0 {
				outcomes[i].Outcome = domain.InsufficientData("no finite targets for q=%.2f", q)
				return nil
			}
			m, err := quantreg.Train(x, y, q, opts)
			if err != nil {
				outcomes[i].Outcome = domain.NumericalFailure(fmt.Errorf("q=%.2f: %w", q, err))
				return nil
			}
			fitted[i] = m
			outcomes[i].Outcome = domain.Fitted()
			return nil
		})
	}
	_ = g.Wait()

	models := make(Models, len(levels))
	for i, q := range levels {
		if fitted[i] != nil {
			models[q] = fitted[i]
		}
	}
	return models, outcomes
}

type Point struct {
	Level float64 `json:"level"`
	Value float64 `json:"value"`
}

// Forecast holds one prediction per level in ascending level order.
type Forecast []Point

func (f Forecast) Value(level float64) (float64, bool) {
	for _, p := range f {
		if p.Level == level {
			return p.Value, !math.IsNaN(p.Value)
		}
	}
	return math.NaN(), false
}

func (m Models) Predict(sample []float64) Forecast {
	levels := make([]float64, 0, len(m))
	for q := range m {
		levels = append(levels, q)
	}
	sort.Float64s(levels)
	out := make(Forecast, 0, len(levels))
	for _, q := range levels {
		out = append(out, Point{Level: q, Value: m[q].Predict(sample)})
	}
	return out
}

// Decide takes a position when the median clears retThresh and the low tail
// stays above -retThresh/2. A missing level never takes.
func Decide(f Forecast, retThresh float64) bool {
	q50, ok := f.Value(Median)
	if !ok {
		return false
	}
	q10, ok := f.Value(Low)
	if !ok {
		return false
	}
	return q50 >= retThresh && q10 > -retThresh/2
}
