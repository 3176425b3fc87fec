package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanStd returns the mean and sample standard deviation of values.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	if len(values) == 1 {
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// PctChange returns values[i]/values[i-lag]-1, NaN where undefined.
func PctChange(values []float64, lag int) []float64 {
	out := nanSeries(len(values))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(values); i++ {
		base := values[i-lag]
		if base == 0 || math.IsNaN(base) || math.IsNaN(values[i]) {
			continue
		}
		out[i] = values[i]/base - 1
	}
	return out
}

// SMASeries is the trailing simple moving average, NaN until the window fills.
func SMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	valid := 0
	for i := range values {
		sum += values[i]
		valid++
		if i >= period {
			sum -= values[i-period]
			valid--
		}
		if valid == period && !math.IsNaN(sum) {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RollingStd is the trailing sample standard deviation over window values.
// Windows containing NaN yield NaN.
func RollingStd(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if anyNaN(w) {
			continue
		}
		_, std := MeanStd(w)
		out[i] = std
	}
	return out
}

// Shift moves the series forward by k positions, filling the head with NaN.
// Shift(x, 1)[i] == x[i-1].
func Shift(values []float64, k int) []float64 {
	out := nanSeries(len(values))
	for i := range values {
		j := i - k
		if j >= 0 && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

// ForwardFill replaces NaN with the last finite value; leading NaN stay.
func ForwardFill(values []float64) []float64 {
	out := make([]float64, len(values))
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = last
			continue
		}
		out[i] = v
		last = v
	}
	return out
}

func anyNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
