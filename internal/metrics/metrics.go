package metrics

import (
	"net/http"
	"strconv"
	"time"

	"selective-alpha/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "selective_alpha"

// Metrics holds the pipeline collectors. Each instance owns its registry so
// tests and multiple servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	tau           prometheus.Gauge
	coverage      prometheus.Gauge
	selected      prometheus.Gauge
	grossWeight   prometheus.Gauge
	events        *prometheus.CounterVec
	published     *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	realized      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_seconds",
			Help:      "End-to-end pipeline run latency",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_seconds",
			Help:      "Per-stage pipeline latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		tau: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_tau",
			Help:      "Selective threshold from the latest run",
		}),
		coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_coverage",
			Help:      "Calibration-set coverage at tau from the latest run",
		}),
		selected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_instruments",
			Help:      "Instruments passing all gates in the latest run",
		}),
		grossWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_gross_weight",
			Help:      "Sum of absolute portfolio weights in the latest run",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostic_events_total",
			Help:      "Diagnostic events by component and severity",
		}, []string{"component", "severity"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_published_total",
			Help:      "Selection messages sent to the execution planner",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_resolved_total",
			Help:      "Resolved decisions by selection flag and sign of the realized return",
		}, []string{"selected", "hit"}),
		realized: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_realized_return",
			Help:      "Realized horizon return of resolved decisions",
			Buckets:   prometheus.LinearBuckets(-0.1, 0.02, 11),
		}, []string{"selected"}),
	}
	reg.MustRegister(
		m.runs, m.runDuration, m.stageDuration,
		m.tau, m.coverage, m.selected, m.grossWeight,
		m.events, m.published,
		m.outcomes, m.realized,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run. res may be nil when the run failed
// before producing a result.
func (m *Metrics) ObserveRun(res *pipeline.Result, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	if res == nil {
		return
	}
	for _, t := range res.Timings {
		m.stageDuration.WithLabelValues(t.Stage).Observe(t.Millis / 1000)
	}
	m.tau.Set(res.Tau)
	m.coverage.Set(res.Calibration.Coverage)
	m.selected.Set(float64(len(res.Selected)))
	gross := 0.0
	for _, w := range res.Weights {
		if w.Weight < 0 {
			gross -= w.Weight
		} else {
			gross += w.Weight
		}
	}
	m.grossWeight.Set(gross)
	for _, e := range res.Events {
		m.events.WithLabelValues(e.Component, string(e.Severity)).Inc()
	}
}

func (m *Metrics) ObservePublish(n int, err error) {
	if err != nil {
		m.published.WithLabelValues("error").Inc()
		return
	}
	m.published.WithLabelValues("ok").Add(float64(n))
}

// ObserveOutcome records a resolved decision.
func (m *Metrics) ObserveOutcome(selected bool, realized float64) {
	sel := strconv.FormatBool(selected)
	m.outcomes.WithLabelValues(sel, strconv.FormatBool(realized > 0)).Inc()
	m.realized.WithLabelValues(sel).Observe(realized)
}
