package features

import (
	"math"
	"sort"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ta"
)

const (
	featureSpecVersion = "v1"
	shortLag           = 5
	rollingWindow      = 20
	defaultHorizon     = 5
)

type Engine struct {
	horizon int
}

func NewEngine(horizon int) *Engine {
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	return &Engine{horizon: horizon}
}

func FeatureSpecVersion() string {
	return featureSpecVersion
}

func (e *Engine) Horizon() int { return e.horizon }

// Schema returns the base features followed by the union of the tables'
// auxiliary columns in sorted order.
func Schema(tables []domain.PriceTable) (domain.FeatureSchema, error) {
	seen := make(map[string]struct{})
	for _, t := range tables {
		for k := range t.Aux {
			seen[k] = struct{}{}
		}
	}
	aux := make([]string, 0, len(seen))
	for k := range seen {
		aux = append(aux, k)
	}
	sort.Strings(aux)
	return domain.NewFeatureSchema(append(append([]string(nil), domain.BaseFeatureNames...), aux...))
}

// BuildObservations turns one instrument's bars into feature rows. Row i only
// uses bars up to i-1; the forward return uses close[i+horizon] and is NaN for
// the trailing rows, which remain available as the current snapshot.
func (e *Engine) BuildObservations(table domain.PriceTable, schema domain.FeatureSchema) []domain.Observation {
	bars := table.Sorted()
	if len(bars) == 0 {
		return nil
	}

	raw := make([]float64, len(bars))
	for i := range bars {
		raw[i] = bars[i].Close
	}
	closes := ta.ForwardFill(raw)

	ret1 := ta.PctChange(closes, 1)
	ret5 := ta.PctChange(closes, shortLag)
	vol := ta.RollingStd(ret1, rollingWindow)
	sma := ta.SMASeries(closes, rollingWindow)
	mom := make([]float64, len(closes))
	rng := make([]float64, len(closes))
	for i := range closes {
		mom[i] = math.NaN()
		if sma[i] != 0 && !math.IsNaN(sma[i]) {
			mom[i] = closes[i]/sma[i] - 1
		}
		rng[i] = barRange(bars[i], closes[i])
	}

	lagged := map[string][]float64{
		domain.FeatureRet1:      ta.Shift(ret1, 1),
		domain.FeatureRet5:      ta.Shift(ret5, 1),
		domain.FeatureVol20:     ta.Shift(vol, 1),
		domain.FeatureMom20:     ta.Shift(mom, 1),
		domain.FeatureRangeNorm: ta.Shift(rng, 1),
	}

	names := schema.Names()
	rows := make([]domain.Observation, 0, len(bars))
	for i := range bars {
		vec := make([]float64, len(names))
		valid := true
		for j, name := range names {
			if series, ok := lagged[name]; ok {
				vec[j] = series[i]
				if math.IsNaN(vec[j]) || math.IsInf(vec[j], 0) {
					valid = false
					break
				}
				continue
			}
			vec[j] = auxValue(table.Aux, name)
		}
		if !valid {
			continue
		}
		rows = append(rows, domain.Observation{
			Symbol:        table.Symbol,
			Time:          bars[i].OpenTime.UTC(),
			Close:         closes[i],
			Features:      vec,
			ForwardReturn: forwardReturn(closes, i, e.horizon),
		})
	}
	return rows
}

func barRange(b domain.Candle, close float64) float64 {
	if close == 0 || math.IsNaN(close) {
		return math.NaN()
	}
	if b.High == 0 && b.Low == 0 {
		return 0
	}
	return (b.High - b.Low) / close
}

func forwardReturn(closes []float64, idx, horizon int) float64 {
	target := idx + horizon
	if target >= len(closes) || closes[idx] == 0 {
		return math.NaN()
	}
	return closes[target]/closes[idx] - 1
}

func auxValue(aux map[string]float64, name string) float64 {
	v, ok := aux[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Pool merges per-instrument rows into one chronological sequence, breaking
// timestamp ties by symbol so the order is deterministic.
func Pool(perInstrument [][]domain.Observation) []domain.Observation {
	total := 0
	for _, rows := range perInstrument {
		total += len(rows)
	}
	out := make([]domain.Observation, 0, total)
	for _, rows := range perInstrument {
		out = append(out, rows...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
