package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type CandleRefresher interface {
	Refresh(ctx context.Context) error
}

// IngestJob refreshes the candle store on a fixed interval.
type IngestJob struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	refresher CandleRefresher
	interval  time.Duration
}

func NewIngestJob(tracer trace.Tracer, log zerolog.Logger, refresher CandleRefresher, intervalSecs int) *IngestJob {
	if intervalSecs <= 0 {
		intervalSecs = 1800
	}
	return &IngestJob{
		tracer:    tracer,
		log:       log.With().Str("component", "ingest-job").Logger(),
		refresher: refresher,
		interval:  time.Duration(intervalSecs) * time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (j *IngestJob) Start(ctx context.Context) {
	j.log.Info().Dur("interval", j.interval).Msg("ingest job starting")
	pollLoop(ctx, j.interval, j.runOnce)
	j.log.Info().Msg("ingest job stopped")
}

func (j *IngestJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ingest-job.run")
	defer span.End()

	if err := j.refresher.Refresh(ctx); err != nil && ctx.Err() == nil {
		j.log.Error().Err(err).Msg("candle refresh failed")
	}
}
