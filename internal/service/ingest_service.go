package service

import (
	"context"
	"errors"
	"fmt"

	"selective-alpha/internal/domain"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, days int) ([]domain.Candle, error)
}

type AuxSource interface {
	FetchAux(ctx context.Context) (map[string]float64, error)
}

type CandleWriter interface {
	UpsertCandles(ctx context.Context, candles []domain.Candle) error
	UpsertAux(ctx context.Context, symbol string, values map[string]float64) error
}

type IngestConfig struct {
	Symbols  []string
	Interval string
	Days     int
}

// IngestService keeps the candle store fresh for the configured symbols and
// attaches market-wide aux columns to each of them.
type IngestService struct {
	tracer  trace.Tracer
	log     zerolog.Logger
	cfg     IngestConfig
	candles CandleSource
	aux     []AuxSource
	store   CandleWriter
}

func NewIngestService(tracer trace.Tracer, log zerolog.Logger, cfg IngestConfig, candles CandleSource, store CandleWriter, aux ...AuxSource) *IngestService {
	return &IngestService{
		tracer:  tracer,
		log:     log.With().Str("component", "ingest-service").Logger(),
		cfg:     cfg,
		candles: candles,
		aux:     aux,
		store:   store,
	}
}

// Refresh pulls every symbol once. A failing symbol does not stop the others;
// all failures are returned joined.
func (s *IngestService) Refresh(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "ingest-service.refresh")
	defer span.End()

	var errs []error
	stored := 0
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := s.refreshSymbol(ctx, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("candle refresh failed")
			errs = append(errs, err)
			continue
		}
		stored += n
	}

	if values := s.fetchAux(ctx); len(values) > 0 {
		for _, symbol := range s.cfg.Symbols {
			if err := s.store.UpsertAux(ctx, symbol, values); err != nil {
				errs = append(errs, fmt.Errorf("store aux for %s: %w", symbol, err))
			}
		}
	}

	span.SetAttributes(attribute.Int("candles", stored), attribute.Int("errors", len(errs)))
	s.log.Debug().Int("candles", stored).Int("symbols", len(s.cfg.Symbols)).Msg("candle refresh complete")
	return errors.Join(errs...)
}

func (s *IngestService) refreshSymbol(ctx context.Context, symbol string) (int, error) {
	candles, err := s.candles.FetchCandles(ctx, symbol, s.cfg.Interval, s.cfg.Days)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := s.store.UpsertCandles(ctx, candles); err != nil {
		return 0, fmt.Errorf("store candles for %s: %w", symbol, err)
	}
	return len(candles), nil
}

// fetchAux merges every aux source. Failing sources are skipped so stale
// values stay in place.
func (s *IngestService) fetchAux(ctx context.Context) map[string]float64 {
	out := make(map[string]float64)
	for _, src := range s.aux {
		values, err := src.FetchAux(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("aux refresh failed")
			continue
		}
		for k, v := range values {
			out[k] = v
		}
	}
	return out
}
