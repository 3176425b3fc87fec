package domain

import (
	"fmt"
	"math"
	"time"
)

// Base feature names, in schema order. Every column is computed from data
// available strictly before the row's timestamp.
const (
	FeatureRet1      = "ret_1"
	FeatureRet5      = "ret_5"
	FeatureVol20     = "vol_20"
	FeatureMom20     = "mom_20"
	FeatureRangeNorm = "range_norm"
)

var BaseFeatureNames = []string{
	FeatureRet1,
	FeatureRet5,
	FeatureVol20,
	FeatureMom20,
	FeatureRangeNorm,
}

// FeatureSchema is the ordered list of named numeric fields shared by the
// base model, the meta model and the quantile models.
type FeatureSchema struct {
	names []string
	index map[string]int
}

func NewFeatureSchema(names []string) (FeatureSchema, error) {
	if len(names) == 0 {
		return FeatureSchema{}, fmt.Errorf("feature schema: no fields")
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			return FeatureSchema{}, fmt.Errorf("feature schema: empty field name at position %d", i)
		}
		if _, dup := index[n]; dup {
			return FeatureSchema{}, fmt.Errorf("feature schema: duplicate field %q", n)
		}
		index[n] = i
	}
	return FeatureSchema{names: append([]string(nil), names...), index: index}, nil
}

func (s FeatureSchema) Names() []string {
	return append([]string(nil), s.names...)
}

func (s FeatureSchema) Len() int { return len(s.names) }

func (s FeatureSchema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Observation is one (instrument, timestamp) row.
type Observation struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Close    float64   `json:"close"`
	Features []float64 `json:"features"`
	// ForwardReturn is NaN when the horizon extends past the last bar.
	ForwardReturn float64 `json:"forward_return"`
}

// Labeled reports whether the forward return is known.
func (o Observation) Labeled() bool {
	return !math.IsNaN(o.ForwardReturn) && !math.IsInf(o.ForwardReturn, 0)
}

// UpLabel is the binary base target: 1 when the forward return is positive.
func (o Observation) UpLabel() int {
	if o.ForwardReturn > 0 {
		return 1
	}
	return 0
}

// Split is a strict chronological partition of pooled observations.
type Split struct {
	Train       []Observation
	Calibration []Observation
}

// TrainFraction is the chronological share of rows used for training.
const TrainFraction = 0.70

// ChronologicalSplit assigns the first 70% of rows to training and the rest to
// calibration. Input order is the time axis and is never reshuffled. The cut
// never separates rows sharing a timestamp: it moves forward to the next
// timestamp, or back to the start of the tied run when that would leave no
// calibration rows.
func ChronologicalSplit(rows []Observation) Split {
	n := len(rows)
	if n == 0 {
		return Split{}
	}
	trainEnd := int(float64(n) * TrainFraction)
	if trainEnd < 1 {
		trainEnd = 1
	}
	if trainEnd >= n && n > 1 {
		trainEnd = n - 1
	}
	cut := trainEnd
	for cut < n && !rows[cut-1].Time.Before(rows[cut].Time) {
		cut++
	}
	if cut == n && n > 1 {
		cut = trainEnd
		for cut > 1 && !rows[cut-1].Time.Before(rows[cut].Time) {
			cut--
		}
		if !rows[cut-1].Time.Before(rows[cut].Time) {
			cut = trainEnd
		}
	}
	return Split{Train: rows[:cut], Calibration: rows[cut:]}
}

// Matrix extracts the feature matrix of rows.
func Matrix(rows []Observation) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].Features
	}
	return out
}

type FitStatus string

const (
	FitSuccess          FitStatus = "success"
	FitInsufficientData FitStatus = "insufficient_data"
	FitNumericalFailure FitStatus = "numerical_failure"
)

// FitOutcome tells callers whether a sentinel result was produced on purpose
// (insufficient data) or because fitting broke.
type FitOutcome struct {
	Status FitStatus `json:"status"`
	Err    string    `json:"error,omitempty"`
}

func Fitted() FitOutcome { return FitOutcome{Status: FitSuccess} }

func InsufficientData(format string, args ...any) FitOutcome {
	return FitOutcome{Status: FitInsufficientData, Err: fmt.Sprintf(format, args...)}
}

func NumericalFailure(err error) FitOutcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FitOutcome{Status: FitNumericalFailure, Err: msg}
}

func (o FitOutcome) OK() bool { return o.Status == FitSuccess }

// ModelVersion is a stored model artifact produced by a pipeline run.
type ModelVersion struct {
	ID                 int64
	RunID              string
	ModelKey           string
	Version            int
	FeatureSpecVersion string
	FeatureNames       []string
	TrainedFrom        time.Time
	TrainedTo          time.Time
	MetricsJSON        string
	ArtifactFormat     string
	ArtifactBlob       []byte
	CreatedAt          time.Time
}

// DecisionRecord is one instrument's gate snapshot persisted per run, later
// resolved against the realized forward return.
type DecisionRecord struct {
	ID             int64
	RunID          string
	Symbol         string
	Interval       string
	AsOf           time.Time
	TargetTime     time.Time
	AsOfClose      float64
	BaseProb       float64
	MetaProb       float64
	Q10            float64
	Q50            float64
	Q90            float64
	Selected       bool
	Weight         float64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	RealizedReturn *float64
}

// Hit reports whether a resolved selection moved in the selected direction.
func (d DecisionRecord) Hit() (bool, bool) {
	if d.RealizedReturn == nil {
		return false, false
	}
	return *d.RealizedReturn > 0, true
}
