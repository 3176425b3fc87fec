package job

import (
	"context"
	"errors"
	"time"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/service"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type PipelineRunner interface {
	Run(ctx context.Context, tables []domain.PriceTable) (*pipeline.Result, error)
}

// OutcomeResolver settles decisions whose horizon has elapsed.
type OutcomeResolver interface {
	Resolve(ctx context.Context) (int, error)
}

// PipelineJob reruns the pipeline on stored candles at a fixed interval.
type PipelineJob struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	runner   PipelineRunner
	resolver OutcomeResolver
	interval time.Duration
}

func NewPipelineJob(tracer trace.Tracer, log zerolog.Logger, runner PipelineRunner, intervalSecs int) *PipelineJob {
	if intervalSecs <= 0 {
		intervalSecs = 3600
	}
	return &PipelineJob{
		tracer:   tracer,
		log:      log.With().Str("component", "pipeline-job").Logger(),
		runner:   runner,
		interval: time.Duration(intervalSecs) * time.Second,
	}
}

// WithResolver makes every tick settle due decisions before the run.
func (j *PipelineJob) WithResolver(r OutcomeResolver) *PipelineJob {
	j.resolver = r
	return j
}

// Start runs once immediately, then on every tick. Blocks until ctx is
// cancelled.
func (j *PipelineJob) Start(ctx context.Context) {
	j.log.Info().Dur("interval", j.interval).Msg("pipeline job starting")
	pollLoop(ctx, j.interval, j.runOnce)
	j.log.Info().Msg("pipeline job stopped")
}

func (j *PipelineJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "pipeline-job.run")
	defer span.End()

	if j.resolver != nil {
		if _, err := j.resolver.Resolve(ctx); err != nil && ctx.Err() == nil {
			j.log.Warn().Err(err).Msg("resolve decision outcomes")
		}
	}

	_, err := j.runner.Run(ctx, nil)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrRunInProgress):
		j.log.Debug().Msg("skipping tick, a run is already in progress")
	case ctx.Err() != nil:
	default:
		j.log.Error().Err(err).Msg("scheduled pipeline run failed")
	}
}
