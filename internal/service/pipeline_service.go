package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"selective-alpha/internal/cache"
	"selective-alpha/internal/domain"
	"selective-alpha/internal/metrics"
	"selective-alpha/internal/ml/features"
	"selective-alpha/internal/pipeline"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LatestKey is the cache key holding the JSON of the most recent run.
const LatestKey = "pipeline:latest"

var (
	ErrRunInProgress = errors.New("pipeline run already in progress")
	ErrNoResult      = errors.New("no pipeline result yet")
	ErrNoStore       = errors.New("no candle store configured")
)

type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

type CandleStore interface {
	LoadTables(ctx context.Context, symbols []string, interval string, limit int) ([]domain.PriceTable, error)
}

type ResultCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type ModelRegistry interface {
	SaveRun(ctx context.Context, models []domain.ModelVersion) ([]domain.ModelVersion, error)
}

type SelectionPublisher interface {
	Publish(ctx context.Context, res *pipeline.Result) (int, error)
}

type DecisionRecorder interface {
	InsertDecisions(ctx context.Context, records []domain.DecisionRecord) error
}

type PipelineServiceConfig struct {
	Symbols      []string
	Interval     string
	LookbackBars int
	CacheTTL     time.Duration
}

// PipelineService runs the selection pipeline against stored candles and
// fans the result out to the cache, the model registry and the execution
// planner topic. Every dependency except the runner is optional.
type PipelineService struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	cfg       PipelineServiceConfig
	runner    Runner
	store     CandleStore
	cache     ResultCache
	registry  ModelRegistry
	publisher SelectionPublisher
	decisions DecisionRecorder
	metrics   *metrics.Metrics

	running sync.Mutex
	mu      sync.RWMutex
	latest  *pipeline.Result
}

type PipelineDeps struct {
	Store     CandleStore
	Cache     ResultCache
	Registry  ModelRegistry
	Publisher SelectionPublisher
	Decisions DecisionRecorder
	Metrics   *metrics.Metrics
}

func NewPipelineService(
	tracer trace.Tracer,
	log zerolog.Logger,
	cfg PipelineServiceConfig,
	runner Runner,
	deps PipelineDeps,
) *PipelineService {
	return &PipelineService{
		tracer:    tracer,
		log:       log.With().Str("component", "pipeline-service").Logger(),
		cfg:       cfg,
		runner:    runner,
		store:     deps.Store,
		cache:     deps.Cache,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		decisions: deps.Decisions,
		metrics:   deps.Metrics,
	}
}

// Run executes one pass. With nil tables the configured symbols are loaded
// from the candle store. Concurrent calls fail fast with ErrRunInProgress.
func (s *PipelineService) Run(ctx context.Context, tables []domain.PriceTable) (*pipeline.Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline-service.run")
	defer span.End()

	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	res, err := s.run(ctx, tables)
	if s.metrics != nil {
		s.metrics.ObserveRun(res, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Msg("pipeline run failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Float64("tau", res.Tau),
		attribute.Int("selected", len(res.Selected)),
	)
	s.log.Info().
		Str("run_id", res.RunID).
		Float64("tau", res.Tau).
		Int("rows", res.Rows).
		Strs("selected", res.Selected).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline run complete")
	return res, nil
}

func (s *PipelineService) run(ctx context.Context, tables []domain.PriceTable) (*pipeline.Result, error) {
	if tables == nil {
		if s.store == nil {
			return nil, ErrNoStore
		}
		loaded, err := s.store.LoadTables(ctx, s.cfg.Symbols, s.cfg.Interval, s.cfg.LookbackBars)
		if err != nil {
			return nil, fmt.Errorf("load price tables: %w", err)
		}
		tables = loaded
	}

	in := pipeline.Input{Tables: tables, PrevWeights: s.previousWeights(ctx)}
	res, err := s.runner.Run(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("run pipeline: %w", err)
	}

	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()

	s.cacheResult(ctx, res)
	s.saveArtifacts(ctx, res)
	s.recordDecisions(ctx, res)
	s.publish(ctx, res)
	return res, nil
}

// Latest returns the most recent result, preferring the shared cache so
// every replica serves the same run.
func (s *PipelineService) Latest(ctx context.Context) (*pipeline.Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline-service.latest")
	defer span.End()

	if s.cache != nil {
		data, err := s.cache.Get(ctx, LatestKey)
		switch {
		case err == nil:
			var res pipeline.Result
			if uerr := json.Unmarshal(data, &res); uerr != nil {
				s.log.Warn().Err(uerr).Msg("cached pipeline result is unreadable")
				break
			}
			return &res, nil
		case !errors.Is(err, cache.ErrMiss):
			s.log.Warn().Err(err).Msg("pipeline cache read failed")
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoResult
	}
	return s.latest, nil
}

func (s *PipelineService) previousWeights(ctx context.Context) map[string]float64 {
	prev, err := s.Latest(ctx)
	if err != nil || len(prev.Weights) == 0 {
		return nil
	}
	return prev.Weights.Map()
}

func (s *PipelineService) cacheResult(ctx context.Context, res *pipeline.Result) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", res.RunID).Msg("encode pipeline result")
		return
	}
	if err := s.cache.Set(ctx, LatestKey, data, s.cfg.CacheTTL); err != nil {
		s.log.Warn().Err(err).Str("run_id", res.RunID).Msg("cache pipeline result")
	}
}

func (s *PipelineService) saveArtifacts(ctx context.Context, res *pipeline.Result) {
	if s.registry == nil || len(res.Artifacts) == 0 {
		return
	}
	saved, err := s.registry.SaveRun(ctx, ModelVersions(res))
	if err != nil {
		s.log.Error().Err(err).Str("run_id", res.RunID).Msg("store model artifacts")
		return
	}
	for _, m := range saved {
		s.log.Debug().Str("model_key", m.ModelKey).Int("version", m.Version).Msg("model artifact stored")
	}
}

func (s *PipelineService) recordDecisions(ctx context.Context, res *pipeline.Result) {
	if s.decisions == nil {
		return
	}
	records := DecisionRecords(res, s.cfg.Interval)
	if len(records) == 0 {
		return
	}
	if err := s.decisions.InsertDecisions(ctx, records); err != nil {
		s.log.Error().Err(err).Str("run_id", res.RunID).Msg("record decisions")
	}
}

func (s *PipelineService) publish(ctx context.Context, res *pipeline.Result) {
	if s.publisher == nil {
		return
	}
	n, err := s.publisher.Publish(ctx, res)
	if s.metrics != nil {
		s.metrics.ObservePublish(n, err)
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", res.RunID).Msg("publish selections")
	}
}

// ModelVersions converts the run's artifacts into registry rows.
func ModelVersions(res *pipeline.Result) []domain.ModelVersion {
	out := make([]domain.ModelVersion, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		out = append(out, domain.ModelVersion{
			RunID:              res.RunID,
			ModelKey:           a.ModelKey,
			FeatureSpecVersion: features.FeatureSpecVersion(),
			FeatureNames:       res.FeatureNames,
			TrainedFrom:        res.TrainedFrom,
			TrainedTo:          res.TrainedTo,
			MetricsJSON:        artifactMetrics(res, a.ModelKey),
			ArtifactFormat:     a.Format,
			ArtifactBlob:       a.Blob,
		})
	}
	return out
}

func artifactMetrics(res *pipeline.Result, key string) string {
	var v any
	switch key {
	case pipeline.ModelKeyBase:
		v = map[string]any{
			"tau":         res.Tau,
			"coverage":    res.Calibration.Coverage,
			"precision":   res.Calibration.Precision,
			"calibration": res.Base.Metrics.Map(),
		}
	case pipeline.ModelKeyMeta:
		v = map[string]any{
			"train_auc": res.Meta.TrainAUC,
			"rows":      res.Meta.Rows,
			"positives": res.Meta.Positives,
		}
	default:
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
