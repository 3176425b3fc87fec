// Package oof produces out-of-fold probabilities with expanding-window,
// forward-chaining time-series cross-validation.
//
// Rows that no valid fold can estimate (the head of the series, or folds with
// too little history) are backfilled from one in-sample fit over the whole
// data set. Those rows carry RowBackfilled and are NOT leakage-free; callers
// that need certification-grade estimates must keep only RowEstimated rows.
package oof

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/models/logreg"

	"golang.org/x/sync/errgroup"
)

// MinTrainRows is the smallest training fold that is fitted.
const MinTrainRows = 50

// Classifier is an untrained model. After Fit it must implement
// ProbabilityPredictor or DecisionFunction.
type Classifier interface {
	Fit(samples [][]float64, labels []float64) error
}

type ProbabilityPredictor interface {
	PredictProb(sample []float64) float64
}

type DecisionFunction interface {
	Decision(sample []float64) float64
}

// Factory returns a fresh untrained classifier. Any seeding belongs here.
type Factory func() Classifier

// ErrNoPredictor is reported when a fitted model exposes neither
// probabilities nor a decision function.
var ErrNoPredictor = errors.New("model has neither PredictProb nor Decision")

type RowStatus string

const (
	RowUnestimated RowStatus = "unestimated"
	RowEstimated   RowStatus = "estimated"
	RowBackfilled  RowStatus = "backfilled"
	RowFailed      RowStatus = "failed"
)

// Fold is one expanding-window split: train [0, TrainEnd), test
// [TestStart, TestEnd) with TrainEnd == TestStart.
type Fold struct {
	TrainEnd  int `json:"train_end"`
	TestStart int `json:"test_start"`
	TestEnd   int `json:"test_end"`
}

type FoldReport struct {
	Fold    Fold              `json:"fold"`
	Skipped bool              `json:"skipped"`
	Outcome domain.FitOutcome `json:"outcome"`
}

type Result struct {
	Probs    []float64         `json:"probs"`
	Status   []RowStatus       `json:"status"`
	Folds    []FoldReport      `json:"folds"`
	Backfill domain.FitOutcome `json:"backfill"`
}

// Count returns how many rows carry status s.
func (r Result) Count(s RowStatus) int {
	n := 0
	for _, st := range r.Status {
		if st == s {
			n++
		}
	}
	return n
}

type Options struct {
	Splits int
	// Workers bounds concurrent fold fits; values below 2 run sequentially.
	Workers int
	// Times holds one non-decreasing timestamp per row. When set, folds never
	// separate rows that share a timestamp.
	Times []time.Time
}

// Splits reproduces the TimeSeriesSplit geometry: k test blocks of n/(k+1)
// rows at the end of the series, each trained on everything before it.
func Splits(n, k int) []Fold {
	if k < 1 || n < k+1 {
		return nil
	}
	testSize := n / (k + 1)
	if testSize == 0 {
		return nil
	}
	folds := make([]Fold, 0, k)
	for start := n - k*testSize; start < n; start += testSize {
		folds = append(folds, Fold{TrainEnd: start, TestStart: start, TestEnd: start + testSize})
	}
	return folds
}

// SplitsByTime is Splits with every boundary moved forward to the first row
// of the next timestamp, so each fold trains only on rows strictly earlier
// than its test rows. Folds emptied by the move are dropped; their rows join
// the following fold.
func SplitsByTime(times []time.Time, k int) []Fold {
	raw := Splits(len(times), k)
	folds := make([]Fold, 0, len(raw))
	for _, f := range raw {
		start, end := nextTimestamp(times, f.TestStart), nextTimestamp(times, f.TestEnd)
		if start >= end {
			continue
		}
		folds = append(folds, Fold{TrainEnd: start, TestStart: start, TestEnd: end})
	}
	return folds
}

func nextTimestamp(times []time.Time, i int) int {
	for i > 0 && i < len(times) && !times[i-1].Before(times[i]) {
		i++
	}
	return i
}

// Estimate returns one probability per row. It never returns an error:
// failures are encoded in the row statuses and fold outcomes.
func Estimate(ctx context.Context, factory Factory, samples [][]float64, labels []float64, opts Options) Result {
	n := len(samples)
	res := Result{
		Probs:  make([]float64, n),
		Status: make([]RowStatus, n),
	}
	for i := range res.Probs {
		res.Probs[i] = math.NaN()
		res.Status[i] = RowUnestimated
	}
	if n == 0 || len(labels) != n || factory == nil {
		res.Backfill = domain.InsufficientData("no rows to estimate")
		return res
	}

	folds := Splits(n, opts.Splits)
	if len(opts.Times) == n {
		folds = SplitsByTime(opts.Times, opts.Splits)
	}
	res.Folds = make([]FoldReport, len(folds))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 1 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for fi := range folds {
		fi := fi
		fold := folds[fi]
		if fold.TrainEnd < MinTrainRows {
			res.Folds[fi] = FoldReport{Fold: fold, Skipped: true, Outcome: domain.InsufficientData("fold has %d training rows, need %d", fold.TrainEnd, MinTrainRows)}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				res.Folds[fi] = FoldReport{Fold: fold, Outcome: domain.NumericalFailure(err)}
				markFailed(res.Status, fold)
				return nil
			}
			probs, err := fitPredict(factory, samples[:fold.TrainEnd], labels[:fold.TrainEnd], samples[fold.TestStart:fold.TestEnd])
			if err != nil {
				res.Folds[fi] = FoldReport{Fold: fold, Outcome: domain.NumericalFailure(err)}
				markFailed(res.Status, fold)
				return nil
			}
			// Each fold owns a disjoint test range, so these writes never overlap.
			for j, p := range probs {
				res.Probs[fold.TestStart+j] = p
				res.Status[fold.TestStart+j] = RowEstimated
			}
			res.Folds[fi] = FoldReport{Fold: fold, Outcome: domain.Fitted()}
			return nil
		})
	}
	_ = g.Wait()

	if res.Count(RowUnestimated) == 0 {
		res.Backfill = domain.Fitted()
		return res
	}
	all, err := fitPredict(factory, samples, labels, samples)
	if err != nil {
		res.Backfill = domain.NumericalFailure(fmt.Errorf("in-sample backfill: %w", err))
		return res
	}
	for i := range res.Status {
		if res.Status[i] == RowUnestimated {
			res.Probs[i] = all[i]
			res.Status[i] = RowBackfilled
		}
	}
	res.Backfill = domain.Fitted()
	return res
}

func markFailed(status []RowStatus, fold Fold) {
	for i := fold.TestStart; i < fold.TestEnd; i++ {
		status[i] = RowFailed
	}
}

func fitPredict(factory Factory, trainX [][]float64, trainY []float64, testX [][]float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("model panicked: %v", r)
		}
	}()
	m := factory()
	if m == nil {
		return nil, errors.New("factory returned nil model")
	}
	if err := m.Fit(trainX, trainY); err != nil {
		return nil, err
	}
	predict, err := predictor(m)
	if err != nil {
		return nil, err
	}
	out = make([]float64, len(testX))
	for i := range testX {
		out[i] = predict(testX[i])
	}
	return out, nil
}

func predictor(m Classifier) (func([]float64) float64, error) {
	if p, ok := m.(ProbabilityPredictor); ok {
		return p.PredictProb, nil
	}
	if d, ok := m.(DecisionFunction); ok {
		return func(x []float64) float64 { return logreg.Sigmoid(d.Decision(x)) }, nil
	}
	return nil, ErrNoPredictor
}
