package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"selective-alpha/internal/diagnostics"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/portfolio"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserveRunExportsLatestState(t *testing.T) {
	m := New()
	res := &pipeline.Result{
		Tau:         0.71,
		Calibration: pipeline.CalibrationReport{Coverage: 0.12},
		Selected:    []string{"AAA", "BBB"},
		Weights:     portfolio.Weights{{Symbol: "AAA", Weight: 0.25}, {Symbol: "BBB", Weight: -0.25}},
		Events: []diagnostics.Event{
			{Component: "meta", Severity: diagnostics.SeverityWarn, Message: "insufficient data"},
		},
		Timings: []pipeline.Timing{{Stage: "features", Millis: 12}},
	}
	m.ObserveRun(res, 2*time.Second, nil)

	body := scrape(t, m)
	for _, want := range []string{
		`selective_alpha_pipeline_runs_total{result="ok"} 1`,
		`selective_alpha_calibration_tau 0.71`,
		`selective_alpha_calibration_coverage 0.12`,
		`selective_alpha_selected_instruments 2`,
		`selective_alpha_portfolio_gross_weight 0.5`,
		`selective_alpha_diagnostic_events_total{component="meta",severity="warn"} 1`,
		`selective_alpha_pipeline_stage_seconds_count{stage="features"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestObserveRunFailure(t *testing.T) {
	m := New()
	m.ObserveRun(nil, time.Second, errors.New("no instruments"))
	body := scrape(t, m)
	if !strings.Contains(body, `selective_alpha_pipeline_runs_total{result="error"} 1`) {
		t.Fatalf("expected error counter, got:\n%s", body)
	}
	if !strings.Contains(body, "selective_alpha_pipeline_run_seconds_count 1") {
		t.Fatalf("expected duration observed, got:\n%s", body)
	}
}

func TestObservePublish(t *testing.T) {
	m := New()
	m.ObservePublish(3, nil)
	m.ObservePublish(0, errors.New("broker down"))
	body := scrape(t, m)
	if !strings.Contains(body, `selective_alpha_selections_published_total{result="ok"} 3`) {
		t.Fatalf("expected ok count 3, got:\n%s", body)
	}
	if !strings.Contains(body, `selective_alpha_selections_published_total{result="error"} 1`) {
		t.Fatalf("expected error count 1, got:\n%s", body)
	}
}

func TestObserveOutcome(t *testing.T) {
	m := New()
	m.ObserveOutcome(true, 0.03)
	m.ObserveOutcome(true, -0.01)
	m.ObserveOutcome(false, 0.02)
	body := scrape(t, m)
	for _, want := range []string{
		`selective_alpha_decisions_resolved_total{hit="true",selected="true"} 1`,
		`selective_alpha_decisions_resolved_total{hit="false",selected="true"} 1`,
		`selective_alpha_decisions_resolved_total{hit="true",selected="false"} 1`,
		`selective_alpha_decision_realized_return_count{selected="true"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}
