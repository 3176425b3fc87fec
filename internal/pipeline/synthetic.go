package pipeline

import (
	"math"
	"math/rand/v2"
	"time"

	"selective-alpha/internal/domain"
)

// WalkParams describes a daily geometric random walk.
type WalkParams struct {
	Start time.Time
	Days  int
	Price float64
	Drift float64 // daily log drift
	Vol   float64 // daily log volatility
	Seed  uint64
}

func DefaultWalkParams() WalkParams {
	return WalkParams{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:  400,
		Price: 100,
		Drift: 0.0003,
		Vol:   0.02,
		Seed:  7,
	}
}

// SyntheticTables draws one independent walk per symbol. The same params
// always produce the same tables.
func SyntheticTables(symbols []string, p WalkParams) []domain.PriceTable {
	out := make([]domain.PriceTable, 0, len(symbols))
	for k, sym := range symbols {
		r := rand.New(rand.NewPCG(p.Seed, uint64(k)+1))
		price := p.Price
		candles := make([]domain.Candle, p.Days)
		for d := 0; d < p.Days; d++ {
			open := price
			price *= math.Exp(p.Drift - p.Vol*p.Vol/2 + p.Vol*r.NormFloat64())
			wick := math.Abs(r.NormFloat64()) * p.Vol / 2
			candles[d] = domain.Candle{
				Symbol:   sym,
				Interval: "1d",
				OpenTime: p.Start.AddDate(0, 0, d),
				Open:     open,
				High:     math.Max(open, price) * (1 + wick),
				Low:      math.Min(open, price) * (1 - wick),
				Close:    price,
				Volume:   1000 * (1 + r.Float64()),
			}
		}
		out = append(out, domain.PriceTable{Symbol: sym, Candles: candles})
	}
	return out
}
