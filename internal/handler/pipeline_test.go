package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type stubPipeline struct {
	tables    []domain.PriceTable
	calls     int
	runErr    error
	latest    *pipeline.Result
	latestErr error
}

func (s *stubPipeline) Run(ctx context.Context, tables []domain.PriceTable) (*pipeline.Result, error) {
	s.calls++
	s.tables = tables
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &pipeline.Result{RunID: "run-1", Tau: 0.7, Selected: []string{"AAA"}}, nil
}

func (s *stubPipeline) Latest(ctx context.Context) (*pipeline.Result, error) {
	return s.latest, s.latestErr
}

func newRouter(stub PipelineRunner, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "selective_alpha_pipeline_runs_total 0\n")
	})
	New(trace.NewNoopTracerProvider().Tracer("test"), stub, metrics).RegisterRoutes(r, apiKey)
	return r
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunPipelineWithInlineTables(t *testing.T) {
	stub := &stubPipeline{}
	r := newRouter(stub, "")

	body := `{"tables":[{"symbol":"AAA","candles":[{"symbol":"AAA","close":100,"open_time":"2024-01-01T00:00:00Z"}],"aux":{"news":0.3}}]}`
	w := do(r, http.MethodPost, "/api/pipeline/run", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(stub.tables) != 1 || stub.tables[0].Symbol != "AAA" || stub.tables[0].Aux["news"] != 0.3 {
		t.Fatalf("tables not forwarded: %+v", stub.tables)
	}
	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.RunID != "run-1" || res.Tau != 0.7 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunPipelineEmptyBodyUsesStore(t *testing.T) {
	stub := &stubPipeline{}
	w := do(newRouter(stub, ""), http.MethodPost, "/api/pipeline/run", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if stub.calls != 1 || stub.tables != nil {
		t.Fatalf("expected nil tables for an empty body, got %+v", stub.tables)
	}
}

func TestRunPipelineBadBody(t *testing.T) {
	stub := &stubPipeline{}
	w := do(newRouter(stub, ""), http.MethodPost, "/api/pipeline/run", `{"tables":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if stub.calls != 0 {
		t.Fatal("pipeline should not run on a bad body")
	}
}

func TestRunPipelineErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{pipeline.ErrNoInstruments, http.StatusBadRequest},
		{fmt.Errorf("run pipeline: %w", pipeline.ErrInvalidConfig), http.StatusBadRequest},
		{service.ErrRunInProgress, http.StatusConflict},
		{service.ErrNoStore, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := do(newRouter(&stubPipeline{runErr: tc.err}, ""), http.MethodPost, "/api/pipeline/run", `{"tables":[]}`, nil)
		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestLatestPipeline(t *testing.T) {
	w := do(newRouter(&stubPipeline{latestErr: service.ErrNoResult}, ""), http.MethodGet, "/api/pipeline/latest", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	stub := &stubPipeline{latest: &pipeline.Result{RunID: "cached"}}
	w = do(newRouter(stub, ""), http.MethodGet, "/api/pipeline/latest", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"run_id":"cached"`) {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
}

func TestPipelineRoutesRequireAPIKey(t *testing.T) {
	r := newRouter(&stubPipeline{}, "secret")

	if w := do(r, http.MethodGet, "/api/pipeline/latest", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/pipeline/latest", "", map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/pipeline/run", "", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pipeline_runs_total") {
		t.Fatalf("expected metrics exposition, got %d", w.Code)
	}
}

func TestPipelineUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(trace.NewNoopTracerProvider().Tracer("test"), nil, nil).RegisterRoutes(r, "")
	if w := do(r, http.MethodPost, "/api/pipeline/run", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
