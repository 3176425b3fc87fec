package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/metrics"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/portfolio"

	"github.com/rs/zerolog"
)

type fakeDecisionLog struct {
	inserted []domain.DecisionRecord
	due      []domain.DecisionRecord
	resolved map[int64]float64
	cutoff   time.Time
	err      error
}

func (l *fakeDecisionLog) InsertDecisions(ctx context.Context, records []domain.DecisionRecord) error {
	if l.err != nil {
		return l.err
	}
	l.inserted = append(l.inserted, records...)
	return nil
}

func (l *fakeDecisionLog) ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.DecisionRecord, error) {
	l.cutoff = cutoff
	return l.due, l.err
}

func (l *fakeDecisionLog) Resolve(ctx context.Context, id int64, realized float64) error {
	if l.resolved == nil {
		l.resolved = make(map[int64]float64)
	}
	l.resolved[id] = realized
	return nil
}

type fakeCandles struct {
	bars  map[string][]domain.Candle
	calls int
}

func (c *fakeCandles) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	c.calls++
	return c.bars[symbol], nil
}

var day0 = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func dailyBars(symbol string, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Symbol: symbol, Interval: "1d", OpenTime: day0.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestDecisionRecordsFromResult(t *testing.T) {
	res := &pipeline.Result{
		RunID:   "run-7",
		Horizon: 5,
		Weights: portfolio.Weights{{Symbol: "AAA", Weight: 0.3}},
		Decisions: []pipeline.Decision{
			{
				Symbol:   "AAA",
				AsOf:     day0,
				Close:    101,
				BaseProb: 0.8,
				MetaProb: 0.6,
				Quantiles: []pipeline.QuantileValue{
					{Level: 0.1, Value: -0.02}, {Level: 0.5, Value: 0.01}, {Level: 0.9, Value: 0.04},
				},
				Selected: true,
			},
			{Symbol: "BBB", AsOf: day0, Close: 50, BaseProb: 0.4, MetaProb: domain.Number(math.NaN())},
			{Symbol: "CCC"},
		},
	}

	recs := DecisionRecords(res, "1d")
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	a := recs[0]
	if a.RunID != "run-7" || a.Symbol != "AAA" || a.Interval != "1d" {
		t.Fatalf("unexpected identity %+v", a)
	}
	if !a.TargetTime.Equal(day0.AddDate(0, 0, 5)) {
		t.Fatalf("expected target five days ahead, got %s", a.TargetTime)
	}
	if a.AsOfClose != 101 || a.Weight != 0.3 || !a.Selected {
		t.Fatalf("unexpected snapshot %+v", a)
	}
	if a.Q10 != -0.02 || a.Q50 != 0.01 || a.Q90 != 0.04 {
		t.Fatalf("unexpected quantiles %v %v %v", a.Q10, a.Q50, a.Q90)
	}
	b := recs[1]
	if !math.IsNaN(b.MetaProb) || !math.IsNaN(b.Q50) || b.Weight != 0 {
		t.Fatalf("expected sentinels for unscored instrument, got %+v", b)
	}
}

func TestRealizedReturnUsesFirstBarAtTarget(t *testing.T) {
	bars := dailyBars("AAA", 100, 101, 102, 110, 120)
	d := domain.DecisionRecord{AsOfClose: 100, TargetTime: day0.AddDate(0, 0, 2).Add(time.Hour)}
	got, ok := RealizedReturn(d, bars)
	if !ok {
		t.Fatalf("expected a realized return")
	}
	if math.Abs(got-0.10) > 1e-12 {
		t.Fatalf("expected 0.10, got %v", got)
	}

	d.TargetTime = day0.AddDate(0, 0, 10)
	if _, ok := RealizedReturn(d, bars); ok {
		t.Fatalf("expected no return before the exit bar exists")
	}
	d.TargetTime = day0
	d.AsOfClose = 0
	if _, ok := RealizedReturn(d, bars); ok {
		t.Fatalf("expected no return without an entry close")
	}
}

func TestOutcomeServiceResolvesAvailableDecisions(t *testing.T) {
	log := &fakeDecisionLog{due: []domain.DecisionRecord{
		{ID: 1, Symbol: "AAA", Interval: "1d", AsOfClose: 100, TargetTime: day0.AddDate(0, 0, 1), Selected: true},
		{ID: 2, Symbol: "AAA", Interval: "1d", AsOfClose: 100, TargetTime: day0.AddDate(0, 0, 9)},
		{ID: 3, Symbol: "BBB", Interval: "1d", AsOfClose: 50, TargetTime: day0},
	}}
	candles := &fakeCandles{bars: map[string][]domain.Candle{
		"AAA": dailyBars("AAA", 100, 95, 97),
		"BBB": dailyBars("BBB", 55),
	}}
	now := day0.AddDate(0, 0, 20)
	svc := NewOutcomeService(testTracer, zerolog.Nop(), log, candles, metrics.New())
	svc.now = func() time.Time { return now }

	n, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 resolved, got %d", n)
	}
	if !log.cutoff.Equal(now) {
		t.Fatalf("expected cutoff %s, got %s", now, log.cutoff)
	}
	if candles.calls != 2 {
		t.Fatalf("expected candles loaded once per symbol, got %d calls", candles.calls)
	}
	if math.Abs(log.resolved[1]+0.05) > 1e-12 || math.Abs(log.resolved[3]-0.10) > 1e-12 {
		t.Fatalf("unexpected realized returns %v", log.resolved)
	}
	if _, ok := log.resolved[2]; ok {
		t.Fatalf("decision without an exit bar must stay open")
	}
}

func TestOutcomeServiceListError(t *testing.T) {
	log := &fakeDecisionLog{err: errors.New("db down")}
	svc := NewOutcomeService(testTracer, zerolog.Nop(), log, &fakeCandles{}, nil)
	if _, err := svc.Resolve(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPipelineServiceRecordsDecisions(t *testing.T) {
	res := cannedResult()
	res.Horizon = 3
	res.Decisions = []pipeline.Decision{{Symbol: "AAA", AsOf: day0, Close: 10, BaseProb: 0.7, MetaProb: 0.6, Selected: true}}
	decisions := &fakeDecisionLog{}
	svc := NewPipelineService(testTracer, zerolog.Nop(), testConfig(), &fakeRunner{res: res}, PipelineDeps{Decisions: decisions})

	if _, err := svc.Run(context.Background(), []domain.PriceTable{{Symbol: "AAA"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decisions.inserted) != 1 {
		t.Fatalf("expected one decision recorded, got %d", len(decisions.inserted))
	}
	if got := decisions.inserted[0]; got.Weight != 0.2 || !got.TargetTime.Equal(day0.AddDate(0, 0, 3)) {
		t.Fatalf("unexpected record %+v", got)
	}
}
