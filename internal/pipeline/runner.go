// Package pipeline runs the selective forecasting pipeline end to end: base
// classifier and calibrated threshold, out-of-fold probabilities, barrier
// and meta labels, quantile gates and the portfolio allocation.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"selective-alpha/internal/diagnostics"
	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/barrier"
	"selective-alpha/internal/ml/conformal"
	"selective-alpha/internal/ml/drift"
	"selective-alpha/internal/ml/explain"
	"selective-alpha/internal/ml/features"
	"selective-alpha/internal/ml/metalabel"
	"selective-alpha/internal/ml/metrics"
	"selective-alpha/internal/ml/models/logreg"
	"selective-alpha/internal/ml/models/quantreg"
	"selective-alpha/internal/ml/oof"
	"selective-alpha/internal/ml/quantile"
	"selective-alpha/internal/portfolio"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ModelKeyBase = "base_logreg"
	ModelKeyMeta = "meta_xgboost"

	FormatLogReg   = "json/logreg-v1"
	FormatQuantReg = "json/quantreg-v1"
)

type Input struct {
	Tables []domain.PriceTable
	// PrevWeights anchors the turnover penalty; nil means no prior book.
	PrevWeights map[string]float64
}

type Runner struct {
	cfg    Config
	tracer trace.Tracer
	sink   diagnostics.Sink
	log    zerolog.Logger
	engine *features.Engine
	newID  func() string
}

func NewRunner(cfg Config, tracer trace.Tracer, sink diagnostics.Sink, log zerolog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("pipeline")
	}
	if sink == nil {
		sink = diagnostics.Discard
	}
	return &Runner{
		cfg:    cfg,
		tracer: tracer,
		sink:   sink,
		log:    log,
		engine: features.NewEngine(cfg.Horizon),
		newID:  uuid.NewString,
	}, nil
}

func (r *Runner) Config() Config { return r.cfg }

// run carries the state of one Run call.
type run struct {
	*Runner
	res *Result

	mu     sync.Mutex
	events []diagnostics.Event
}

func (s *run) report(component string, severity diagnostics.Severity, msg string, fields map[string]string) {
	ev := diagnostics.Event{Component: component, Severity: severity, Message: msg, Fields: fields}
	s.sink.Report(ev)
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *run) outcome(component string, o domain.FitOutcome) {
	if o.OK() {
		return
	}
	sev := diagnostics.SeverityWarn
	if o.Status == domain.FitNumericalFailure {
		sev = diagnostics.SeverityError
	}
	s.report(component, sev, string(o.Status), map[string]string{"error": o.Err})
}

func (s *run) stage(ctx context.Context, name string, fn func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline %s: %w", name, err)
	}
	ctx, span := s.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	fn(ctx)
	s.res.Timings = append(s.res.Timings, Timing{Stage: name, Millis: float64(time.Since(start).Microseconds()) / 1000})
	return ctx.Err()
}

// Run executes one pipeline pass. Only an invalid input or a cancelled
// context is an error; numerical degradation is reported through the sink
// and the Result.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	tables, err := checkTables(in.Tables)
	if err != nil {
		return nil, err
	}
	schema, err := features.Schema(tables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	res := &Result{
		RunID:        r.newID(),
		StartedAt:    time.Now().UTC(),
		FeatureNames: schema.Names(),
		Horizon:      r.cfg.Horizon,
		Tau:          conformal.DefaultTau,
		Weights:      portfolio.Weights{},
	}
	for _, t := range tables {
		res.Symbols = append(res.Symbols, t.Symbol)
	}
	s := &run{Runner: r, res: res}
	names := schema.Names()

	var perInstrument [][]domain.Observation
	if err := s.stage(ctx, "features", func(ctx context.Context) {
		perInstrument = s.buildObservations(ctx, tables, schema)
	}); err != nil {
		return nil, err
	}

	pooled, labeled := labeledRows(perInstrument)
	res.Rows, res.LabeledRows = len(pooled), len(labeled)
	if len(labeled) > 0 {
		res.TrainedFrom, res.TrainedTo = labeled[0].Time, labeled[len(labeled)-1].Time
	}
	x := domain.Matrix(labeled)
	split := domain.ChronologicalSplit(labeled)

	base := logreg.New(names, logreg.DefaultTrainOptions())
	baseFitted := false
	var calX [][]float64
	var calY []int
	if err := s.stage(ctx, "calibrate", func(ctx context.Context) {
		calX = domain.Matrix(split.Calibration)
		calY = upLabels(split.Calibration)
		baseFitted = s.fitBase(base, split)
		res.Calibration.Eps = s.cfg.Eps
		if !baseFitted {
			res.Calibration.Precision = domain.Number(math.NaN())
			return
		}
		scores := base.PredictBatch(calX)
		res.Tau = conformal.CalibrateTau(calY, scores, s.cfg.Eps)
		rep := conformal.Evaluate(calY, scores, res.Tau)
		res.Calibration = CalibrationReport{Eps: s.cfg.Eps, Coverage: rep.Coverage, Precision: domain.Number(rep.Precision), Samples: rep.Samples}
		res.Base.Metrics = metrics.Classify(metrics.Ints(calY), scores)
		if res.Tau == conformal.DefaultTau {
			s.report("conformal", diagnostics.SeverityWarn, "no threshold reaches the precision target", map[string]string{
				"eps": strconv.FormatFloat(s.cfg.Eps, 'f', -1, 64),
			})
		}
	}); err != nil {
		return nil, err
	}

	var est oof.Result
	if err := s.stage(ctx, "oof", func(ctx context.Context) {
		factory := func() oof.Classifier { return logreg.New(names, logreg.DefaultTrainOptions()) }
		est = oof.Estimate(ctx, factory, x, metrics.Ints(upLabels(labeled)), oof.Options{
			Splits:  s.cfg.Splits,
			Workers: s.cfg.Workers,
			Times:   observationTimes(labeled),
		})
		s.reportOOF(est)
	}); err != nil {
		return nil, err
	}

	var barrierLabels []int
	if err := s.stage(ctx, "barrier", func(ctx context.Context) {
		barrierLabels = s.barrierLabels(tables, labeled)
		res.Barrier = barrier.Count(barrierLabels)
	}); err != nil {
		return nil, err
	}

	var meta *metalabel.Model
	if err := s.stage(ctx, "meta", func(ctx context.Context) {
		meta = s.fitMeta(est, barrierLabels, x, names)
	}); err != nil {
		return nil, err
	}

	var qmodels quantile.Models
	if err := s.stage(ctx, "quantile", func(ctx context.Context) {
		fwd := make([]float64, len(labeled))
		for i := range labeled {
			fwd[i] = labeled[i].ForwardReturn
		}
		var outcomes []quantile.LevelOutcome
		qmodels, outcomes = quantile.Fit(ctx, x, fwd, quantile.Levels, quantreg.DefaultTrainOptions())
		res.Quantile = outcomes
		for _, o := range outcomes {
			s.outcome("quantile", o.Outcome)
		}
		s.storeQuantiles(qmodels)
	}); err != nil {
		return nil, err
	}

	forecasts := make(map[string]quantile.Forecast, len(tables))
	if err := s.stage(ctx, "snapshot", func(ctx context.Context) {
		for i, t := range tables {
			d, f := s.decide(t.Symbol, perInstrument[i], base, baseFitted, meta, qmodels)
			res.Decisions = append(res.Decisions, d)
			forecasts[t.Symbol] = f
			if d.Selected {
				res.Selected = append(res.Selected, t.Symbol)
			}
		}
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, "portfolio", func(ctx context.Context) {
		s.allocate(tables, forecasts, in.PrevWeights)
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, "diagnostics", func(ctx context.Context) {
		for _, f := range drift.Columns(names, domain.Matrix(split.Train), calX) {
			res.Drift = append(res.Drift, FeatureDrift{Feature: f.Name, PSI: domain.Number(f.PSI)})
		}
		if !baseFitted {
			return
		}
		imp, err := explain.PermutationImportance(base, calX, metrics.Ints(calY), names, explain.DefaultOptions())
		if err != nil {
			s.report("explain", diagnostics.SeverityWarn, "permutation importance unavailable", map[string]string{"error": err.Error()})
			return
		}
		res.Importance = imp
	}); err != nil {
		return nil, err
	}

	res.Events = s.events
	span.SetAttributes(
		attribute.String("pipeline.run_id", res.RunID),
		attribute.Float64("pipeline.tau", res.Tau),
		attribute.Int("pipeline.selected", len(res.Selected)),
	)
	s.log.Info().
		Str("run_id", res.RunID).
		Int("instruments", len(tables)).
		Int("rows", res.LabeledRows).
		Float64("tau", res.Tau).
		Strs("selected", res.Selected).
		Msg("pipeline run complete")
	return res, nil
}

func checkTables(tables []domain.PriceTable) ([]domain.PriceTable, error) {
	if len(tables) == 0 {
		return nil, ErrNoInstruments
	}
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if t.Symbol == "" {
			return nil, fmt.Errorf("%w: table without symbol", ErrInvalidConfig)
		}
		if _, dup := seen[t.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", ErrInvalidConfig, t.Symbol)
		}
		seen[t.Symbol] = struct{}{}
	}
	return tables, nil
}

func upLabels(rows []domain.Observation) []int {
	out := make([]int, len(rows))
	for i := range rows {
		out[i] = rows[i].UpLabel()
	}
	return out
}

// labeledRows pools every instrument by time and keeps the rows whose
// forward return is known.
func labeledRows(perInstrument [][]domain.Observation) (pooled, labeled []domain.Observation) {
	pooled = features.Pool(perInstrument)
	labeled = make([]domain.Observation, 0, len(pooled))
	for _, o := range pooled {
		if o.Labeled() {
			labeled = append(labeled, o)
		}
	}
	return pooled, labeled
}

func observationTimes(rows []domain.Observation) []time.Time {
	out := make([]time.Time, len(rows))
	for i := range rows {
		out[i] = rows[i].Time
	}
	return out
}
