package pipeline

import (
	"time"

	"selective-alpha/internal/diagnostics"
	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/barrier"
	"selective-alpha/internal/ml/explain"
	"selective-alpha/internal/ml/metrics"
	"selective-alpha/internal/ml/oof"
	"selective-alpha/internal/ml/quantile"
	"selective-alpha/internal/portfolio"
)

// Result is everything one run exposes downstream. Sentinel values are NaN
// in memory and null in JSON.
type Result struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	Symbols      []string  `json:"symbols"`
	FeatureNames []string  `json:"feature_names"`
	Rows         int       `json:"rows"`
	LabeledRows  int       `json:"labeled_rows"`
	TrainedFrom  time.Time `json:"trained_from"`
	TrainedTo    time.Time `json:"trained_to"`
	Horizon      int       `json:"horizon"`

	Tau         float64                 `json:"tau"`
	Calibration CalibrationReport       `json:"calibration"`
	Base        BaseReport              `json:"base"`
	OOF         OOFReport               `json:"oof"`
	Barrier     barrier.Distribution    `json:"barrier"`
	Meta        MetaReport              `json:"meta"`
	Quantile    []quantile.LevelOutcome `json:"quantile"`

	Decisions []Decision        `json:"decisions"`
	Selected  []string          `json:"selected"`
	Weights   portfolio.Weights `json:"weights"`
	Portfolio PortfolioReport   `json:"portfolio"`

	Drift      []FeatureDrift       `json:"drift"`
	Importance []explain.Importance `json:"importance,omitempty"`
	Events     []diagnostics.Event  `json:"events"`
	Timings    []Timing             `json:"timings"`

	Artifacts []Artifact `json:"-"`
}

// Artifact is a serialized model produced by the run.
type Artifact struct {
	ModelKey string
	Format   string
	Blob     []byte
}

type CalibrationReport struct {
	Eps       float64       `json:"eps"`
	Coverage  float64       `json:"coverage"`
	Precision domain.Number `json:"precision"`
	Samples   int           `json:"samples"`
}

type BaseReport struct {
	Outcome domain.FitOutcome      `json:"outcome"`
	Metrics metrics.Classification `json:"metrics"`
}

type OOFReport struct {
	Estimated   int               `json:"estimated"`
	Backfilled  int               `json:"backfilled"`
	Failed      int               `json:"failed"`
	Unestimated int               `json:"unestimated"`
	Folds       []oof.FoldReport  `json:"folds"`
	Backfill    domain.FitOutcome `json:"backfill"`
}

type MetaReport struct {
	Outcome   domain.FitOutcome `json:"outcome"`
	Rows      int               `json:"rows"`
	Positives int               `json:"positives"`
	TrainAUC  domain.Number     `json:"train_auc"`
}

type QuantileValue struct {
	Level float64       `json:"level"`
	Value domain.Number `json:"value"`
}

// Decision is the current snapshot of one instrument and its three gates.
type Decision struct {
	Symbol       string          `json:"symbol"`
	AsOf         time.Time       `json:"as_of"`
	Close        float64         `json:"close"`
	BaseProb     domain.Number   `json:"base_prob"`
	MetaProb     domain.Number   `json:"meta_prob"`
	Quantiles    []QuantileValue `json:"quantiles"`
	BaseGate     bool            `json:"base_gate"`
	MetaGate     bool            `json:"meta_gate"`
	QuantileGate bool            `json:"quantile_gate"`
	Selected     bool            `json:"selected"`
}

// Mask returns the selection flag per symbol.
func (r *Result) Mask() map[string]bool {
	out := make(map[string]bool, len(r.Decisions))
	for _, d := range r.Decisions {
		out[d.Symbol] = d.Selected
	}
	return out
}

type PortfolioReport struct {
	Iterations int           `json:"iterations"`
	Objective  domain.Number `json:"objective"`
	VaR        domain.Number `json:"var"`
	VaRAlpha   float64       `json:"var_alpha"`
}

type FeatureDrift struct {
	Feature string        `json:"feature"`
	PSI     domain.Number `json:"psi"`
}

type Timing struct {
	Stage  string  `json:"stage"`
	Millis float64 `json:"millis"`
}
