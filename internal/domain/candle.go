package domain

import (
	"sort"
	"time"
)

// Candle represents a single OHLCV bar for an instrument at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// PriceTable is the time-indexed input for one instrument. Aux carries
// numeric columns from external feature providers (news, options,
// microstructure); they are joined by instrument and never inspected.
type PriceTable struct {
	Symbol  string             `json:"symbol"`
	Candles []Candle           `json:"candles"`
	Aux     map[string]float64 `json:"aux,omitempty"`
}

// Sorted returns the candles ordered by open time, oldest first.
func (t PriceTable) Sorted() []Candle {
	out := make([]Candle, len(t.Candles))
	copy(out, t.Candles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// Closes returns the chronological close series.
func (t PriceTable) Closes() []float64 {
	sorted := t.Sorted()
	out := make([]float64, len(sorted))
	for i := range sorted {
		out[i] = sorted[i].Close
	}
	return out
}

// DefaultIntervals lists the bar intervals the candle store accepts.
var DefaultIntervals = []string{"1h", "4h", "1d"}

// IntervalDuration is the bar length of a supported interval.
func IntervalDuration(interval string) (time.Duration, bool) {
	switch interval {
	case "1h":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	return 0, false
}
