package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"selective-alpha/internal/cache"
	"selective-alpha/internal/config"
	"selective-alpha/internal/db"
	"selective-alpha/internal/diagnostics"
	"selective-alpha/internal/handler"
	"selective-alpha/internal/job"
	"selective-alpha/internal/logger"
	"selective-alpha/internal/metrics"
	"selective-alpha/internal/ml/predictions"
	"selective-alpha/internal/ml/registry"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/provider"
	"selective-alpha/internal/publisher"
	"selective-alpha/internal/repository"
	"selective-alpha/internal/service"
	"selective-alpha/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "selective-alpha/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	newPublisherFunc       = publisher.New
	startJobFunc           = func(j *job.PipelineJob, ctx context.Context) { go j.Start(ctx) }
	startIngestJobFunc     = func(j *job.IngestJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	exitFunc               = os.Exit
)

// @title           selective-alpha API
// @version         1.0
// @description     Selective prediction pipeline: calibrated base model, meta-labeling, quantile gating and portfolio allocation.
// @BasePath        /
// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	if err := run(); err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Error().Err(err).Msg("server exited with error")
		exitFunc(1)
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	deps := service.PipelineDeps{Metrics: metrics.New()}
	var (
		outcomes *service.OutcomeService
		candles  *repository.CandleRepository
	)

	// Postgres backs the candle store, the model registry and the decision
	// log. Without it the API still runs pipelines on inline price tables.
	if cfg.DatabaseURL != "" {
		pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, candle store and registry disabled")
		} else {
			defer pool.Close()
			candles = repository.NewCandleRepository(pool, tracer)
			models := registry.NewRepository(pool, tracer)
			decisions := predictions.NewRepository(pool, tracer)
			if err := candles.RunMigrations(ctx); err != nil {
				return err
			}
			if err := models.RunMigrations(ctx); err != nil {
				return err
			}
			if err := decisions.RunMigrations(ctx); err != nil {
				return err
			}
			deps.Store = candles
			deps.Registry = models
			deps.Decisions = decisions
			outcomes = service.NewOutcomeService(tracer, log, decisions, candles, deps.Metrics)
		}
	}

	if client, err := initRedisFunc(ctx, cfg.RedisURL, log); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, latest results kept in memory only")
	} else {
		defer client.Close()
		deps.Cache = cache.NewStore(client)
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := newPublisherFunc(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		deps.Publisher = pub
	}

	if cfg.Ingest.Enabled && candles != nil && len(cfg.Pipeline.Symbols) > 0 {
		var aux []service.AuxSource
		if cfg.Ingest.FearGreed {
			aux = append(aux, provider.NewFearGreedProvider(tracer))
		}
		ingest := service.NewIngestService(tracer, log, service.IngestConfig{
			Symbols:  cfg.Pipeline.Symbols,
			Interval: cfg.Pipeline.Interval,
			Days:     cfg.Ingest.Days,
		}, provider.NewCoinGeckoProvider(tracer, cfg.Ingest.CoinIDs), candles, aux...)
		startIngestJobFunc(job.NewIngestJob(tracer, log, ingest, cfg.Ingest.PollSecs), ctx)
	}

	collector := diagnostics.NewCollector(log, diagnostics.DefaultLimit)
	runner, err := pipeline.NewRunner(cfg.Pipeline.RunnerConfig(), tracer, collector, log)
	if err != nil {
		return err
	}
	svc := service.NewPipelineService(tracer, log, service.PipelineServiceConfig{
		Symbols:      cfg.Pipeline.Symbols,
		Interval:     cfg.Pipeline.Interval,
		LookbackBars: cfg.Pipeline.LookbackBars,
		CacheTTL:     cfg.Pipeline.CacheTTL(),
	}, runner, deps)

	if cfg.Pipeline.Enabled && deps.Store != nil && len(cfg.Pipeline.Symbols) > 0 {
		j := job.NewPipelineJob(tracer, log, svc, cfg.Pipeline.PollSecs)
		if outcomes != nil {
			j.WithResolver(outcomes)
		}
		startJobFunc(j, ctx)
	} else {
		log.Info().Msg("scheduled pipeline runs disabled")
	}

	h := handler.New(tracer, svc, deps.Metrics.Handler())
	r := newRouterFunc()
	r.Use(gin.Recovery(), otelgin.Middleware(tracing.ServiceName), handler.RequestLogger(log))
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	signalled := make(chan struct{})
	go func() {
		waitForSignalFunc(quit)
		close(signalled)
	}()

	select {
	case <-signalled:
		log.Info().Msg("shutting down server")
	case err := <-serveErr:
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server exiting")
	return nil
}
