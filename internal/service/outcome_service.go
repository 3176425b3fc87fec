package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/metrics"
	"selective-alpha/internal/ml/quantile"
	"selective-alpha/internal/pipeline"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	outcomeBatchSize = 200
	outcomeLookback  = 500
)

type DecisionLog interface {
	InsertDecisions(ctx context.Context, records []domain.DecisionRecord) error
	ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.DecisionRecord, error)
	Resolve(ctx context.Context, id int64, realized float64) error
}

type CandleReader interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// DecisionRecords flattens a run into decision log rows. Instruments with
// no usable bar are skipped.
func DecisionRecords(res *pipeline.Result, interval string) []domain.DecisionRecord {
	step, ok := domain.IntervalDuration(interval)
	if !ok {
		step = 24 * time.Hour
	}
	weights := res.Weights.Map()
	out := make([]domain.DecisionRecord, 0, len(res.Decisions))
	for _, d := range res.Decisions {
		if d.AsOf.IsZero() {
			continue
		}
		rec := domain.DecisionRecord{
			RunID:      res.RunID,
			Symbol:     d.Symbol,
			Interval:   interval,
			AsOf:       d.AsOf,
			TargetTime: d.AsOf.Add(time.Duration(res.Horizon) * step),
			AsOfClose:  d.Close,
			BaseProb:   d.BaseProb.Float(),
			MetaProb:   d.MetaProb.Float(),
			Selected:   d.Selected,
			Weight:     weights[d.Symbol],
		}
		rec.Q10, rec.Q50, rec.Q90 = math.NaN(), math.NaN(), math.NaN()
		for _, q := range d.Quantiles {
			switch q.Level {
			case quantile.Low:
				rec.Q10 = q.Value.Float()
			case quantile.Median:
				rec.Q50 = q.Value.Float()
			case quantile.High:
				rec.Q90 = q.Value.Float()
			}
		}
		out = append(out, rec)
	}
	return out
}

// OutcomeService resolves logged decisions once their horizon has elapsed
// by looking up the realized close.
type OutcomeService struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	decisions DecisionLog
	candles   CandleReader
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutcomeService(tracer trace.Tracer, log zerolog.Logger, decisions DecisionLog, candles CandleReader, m *metrics.Metrics) *OutcomeService {
	return &OutcomeService{
		tracer:    tracer,
		log:       log.With().Str("component", "outcome-service").Logger(),
		decisions: decisions,
		candles:   candles,
		metrics:   m,
		now:       time.Now,
	}
}

// Resolve settles every due decision whose exit bar is already stored and
// returns how many were settled.
func (s *OutcomeService) Resolve(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-service.resolve")
	defer span.End()

	due, err := s.decisions.ListUnresolvedDue(ctx, s.now().UTC(), outcomeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due decisions: %w", err)
	}

	bars := make(map[string][]domain.Candle)
	resolved := 0
	for _, d := range due {
		key := d.Symbol + "|" + d.Interval
		candles, ok := bars[key]
		if !ok {
			candles, err = s.candles.GetCandles(ctx, d.Symbol, d.Interval, outcomeLookback)
			if err != nil {
				return resolved, fmt.Errorf("load candles %s: %w", d.Symbol, err)
			}
			bars[key] = candles
		}
		realized, ok := RealizedReturn(d, candles)
		if !ok {
			continue
		}
		if err := s.decisions.Resolve(ctx, d.ID, realized); err != nil {
			s.log.Warn().Err(err).Int64("id", d.ID).Msg("resolve decision")
			continue
		}
		if s.metrics != nil {
			s.metrics.ObserveOutcome(d.Selected, realized)
		}
		resolved++
	}
	span.SetAttributes(attribute.Int("due", len(due)), attribute.Int("resolved", resolved))
	if resolved > 0 {
		s.log.Info().Int("resolved", resolved).Int("due", len(due)).Msg("decisions resolved")
	}
	return resolved, nil
}

// RealizedReturn is close(first bar at or after the target) / close(as of)
// minus one. Candles must be sorted oldest first.
func RealizedReturn(d domain.DecisionRecord, candles []domain.Candle) (float64, bool) {
	if !(d.AsOfClose > 0) {
		return 0, false
	}
	for _, c := range candles {
		if !c.OpenTime.Before(d.TargetTime) {
			if !(c.Close > 0) {
				return 0, false
			}
			return c.Close/d.AsOfClose - 1, true
		}
	}
	return 0, false
}
