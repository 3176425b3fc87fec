package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"selective-alpha/internal/diagnostics"
	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/barrier"
	"selective-alpha/internal/ml/metalabel"
	"selective-alpha/internal/ml/metrics"
	"selective-alpha/internal/ml/models/logreg"
	"selective-alpha/internal/ml/models/xgboost"
	"selective-alpha/internal/ml/oof"
	"selective-alpha/internal/ml/quantile"
	"selective-alpha/internal/portfolio"
	"selective-alpha/internal/ta"

	"golang.org/x/sync/errgroup"
)

func (s *run) buildObservations(ctx context.Context, tables []domain.PriceTable, schema domain.FeatureSchema) [][]domain.Observation {
	out := make([][]domain.Observation, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range tables {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out[i] = s.engine.BuildObservations(tables[i], schema)
			return nil
		})
	}
	_ = g.Wait()
	for i, rows := range out {
		if len(rows) == 0 {
			s.report("features", diagnostics.SeverityWarn, "instrument has no usable observations", map[string]string{
				"symbol": tables[i].Symbol,
				"bars":   strconv.Itoa(len(tables[i].Candles)),
			})
		}
	}
	return out
}

func (s *run) fitBase(base *logreg.Model, split domain.Split) bool {
	if len(split.Train) == 0 || len(split.Calibration) == 0 {
		s.res.Base.Outcome = domain.InsufficientData("train=%d calibration=%d rows", len(split.Train), len(split.Calibration))
		s.outcome("base", s.res.Base.Outcome)
		return false
	}
	if err := base.Fit(domain.Matrix(split.Train), metrics.Ints(upLabels(split.Train))); err != nil {
		s.res.Base.Outcome = domain.NumericalFailure(err)
		s.outcome("base", s.res.Base.Outcome)
		return false
	}
	s.res.Base.Outcome = domain.Fitted()
	if blob, err := base.MarshalBinary(); err == nil {
		s.res.Artifacts = append(s.res.Artifacts, Artifact{ModelKey: ModelKeyBase, Format: FormatLogReg, Blob: blob})
	}
	return true
}

func (s *run) reportOOF(est oof.Result) {
	s.res.OOF = OOFReport{
		Estimated:   est.Count(oof.RowEstimated),
		Backfilled:  est.Count(oof.RowBackfilled),
		Failed:      est.Count(oof.RowFailed),
		Unestimated: est.Count(oof.RowUnestimated),
		Folds:       est.Folds,
		Backfill:    est.Backfill,
	}
	for _, f := range est.Folds {
		if f.Skipped {
			s.report("oof", diagnostics.SeverityInfo, "fold skipped", map[string]string{"train_rows": strconv.Itoa(f.Fold.TrainEnd)})
			continue
		}
		s.outcome("oof", f.Outcome)
	}
	if s.res.OOF.Backfilled > 0 {
		s.report("oof", diagnostics.SeverityInfo, "rows backfilled from an in-sample fit", map[string]string{"rows": strconv.Itoa(s.res.OOF.Backfilled)})
	}
	s.outcome("oof", est.Backfill)
}

// barrierLabels labels each instrument's full close path and looks up the
// label of every pooled row by symbol and bar time.
func (s *run) barrierLabels(tables []domain.PriceTable, rows []domain.Observation) []int {
	bySymbol := make(map[string]map[int64]int, len(tables))
	for _, t := range tables {
		bars := t.Sorted()
		closes := make([]float64, len(bars))
		for i := range bars {
			closes[i] = bars[i].Close
		}
		labels := barrier.Labels(closes, s.cfg.Barrier)
		m := make(map[int64]int, len(bars))
		for i := range bars {
			m[bars[i].OpenTime.UnixNano()] = labels[i]
		}
		bySymbol[t.Symbol] = m
	}
	out := make([]int, len(rows))
	for i, o := range rows {
		out[i] = bySymbol[o.Symbol][o.Time.UnixNano()]
	}
	return out
}

// fitMeta trains on rows that received an OOF probability; failed folds
// have no direction to validate.
func (s *run) fitMeta(est oof.Result, barrierLabels []int, x [][]float64, names []string) *metalabel.Model {
	labels := metalabel.Labels(metalabel.Directions(est.Probs), barrierLabels)
	metaX := make([][]float64, 0, len(x))
	metaY := make([]int, 0, len(x))
	positives := 0
	for i := range x {
		if i >= len(est.Status) || i >= len(labels) {
			break
		}
		if st := est.Status[i]; st != oof.RowEstimated && st != oof.RowBackfilled {
			continue
		}
		metaX = append(metaX, x[i])
		metaY = append(metaY, labels[i])
		positives += labels[i]
	}
	model, outcome := metalabel.Train(metaX, metaY, names, xgboost.DefaultTrainOptions())
	s.res.Meta = MetaReport{Outcome: outcome, Rows: len(metaY), Positives: positives, TrainAUC: domain.Number(math.NaN())}
	s.outcome("meta", outcome)
	if model == nil {
		return nil
	}
	s.res.Meta.TrainAUC = domain.Number(model.TrainAUC)
	if blob, err := model.MarshalBinary(); err == nil {
		s.res.Artifacts = append(s.res.Artifacts, Artifact{ModelKey: ModelKeyMeta, Format: metalabel.ArtifactFormat, Blob: blob})
	}
	return model
}

func (s *run) storeQuantiles(models quantile.Models) {
	for _, q := range quantile.Levels {
		m, ok := models[q]
		if !ok {
			continue
		}
		blob, err := m.MarshalBinary()
		if err != nil {
			continue
		}
		s.res.Artifacts = append(s.res.Artifacts, Artifact{ModelKey: QuantileModelKey(q), Format: FormatQuantReg, Blob: blob})
	}
}

func QuantileModelKey(q float64) string {
	return fmt.Sprintf("quantile_q%02d", int(math.Round(q*100)))
}

// decide scores the latest row of one instrument. All three gates must pass.
func (s *run) decide(symbol string, rows []domain.Observation, base *logreg.Model, baseFitted bool, meta *metalabel.Model, models quantile.Models) (Decision, quantile.Forecast) {
	d := Decision{
		Symbol:   symbol,
		BaseProb: domain.Number(math.NaN()),
		MetaProb: domain.Number(math.NaN()),
	}
	if len(rows) == 0 {
		return d, nil
	}
	last := rows[len(rows)-1]
	d.AsOf = last.Time
	d.Close = last.Close

	if baseFitted {
		p := base.PredictProb(last.Features)
		d.BaseProb = domain.Number(p)
		d.BaseGate = p > s.res.Tau
	}
	mp := meta.PredictProb(last.Features)
	d.MetaProb = domain.Number(mp)
	d.MetaGate = mp > MetaGate

	f := models.Predict(last.Features)
	for _, p := range f {
		d.Quantiles = append(d.Quantiles, QuantileValue{Level: p.Level, Value: domain.Number(p.Value)})
	}
	d.QuantileGate = quantile.Decide(f, s.cfg.RetThresh)
	d.Selected = d.BaseGate && d.MetaGate && d.QuantileGate
	return d, f
}

// allocate optimizes weights over the selected instruments with the median
// forecast as expected return.
func (s *run) allocate(tables []domain.PriceTable, forecasts map[string]quantile.Forecast, prev map[string]float64) {
	rep := PortfolioReport{Objective: domain.Number(math.NaN()), VaR: domain.Number(math.NaN()), VaRAlpha: s.cfg.VaRAlpha}
	if len(s.res.Selected) == 0 {
		s.res.Portfolio = rep
		return
	}
	returns := make(map[string][]float64, len(s.res.Selected))
	for _, t := range tables {
		if forecasts[t.Symbol] == nil {
			continue
		}
		returns[t.Symbol] = ta.PctChange(ta.ForwardFill(t.Closes()), 1)
	}
	mu := make([]float64, len(s.res.Selected))
	for i, sym := range s.res.Selected {
		mu[i], _ = forecasts[sym].Value(quantile.Median)
	}
	cov := portfolio.EstimateCovariance(returns, s.res.Selected, s.cfg.CovLookback, s.cfg.Horizon)
	sol := portfolio.Solve(mu, cov, s.res.Selected, prev, s.cfg.Portfolio)
	s.res.Weights = sol.Weights
	rep.Iterations = sol.Iterations
	if n := len(sol.Objective); n > 0 {
		rep.Objective = domain.Number(sol.Objective[n-1])
	}
	rep.VaR = domain.Number(portfolio.HistoricalVaR(sol.Weights, returns, s.cfg.VaRAlpha))
	s.res.Portfolio = rep
}
