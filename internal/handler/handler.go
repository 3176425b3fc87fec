package handler

import (
	"context"
	"net/http"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/pipeline"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type PipelineRunner interface {
	Run(ctx context.Context, tables []domain.PriceTable) (*pipeline.Result, error)
	Latest(ctx context.Context) (*pipeline.Result, error)
}

type Handler struct {
	tracer   trace.Tracer
	pipeline PipelineRunner
	metrics  http.Handler
}

// New builds the HTTP handlers. metrics may be nil to skip /metrics.
func New(tracer trace.Tracer, pipeline PipelineRunner, metrics http.Handler) *Handler {
	return &Handler{
		tracer:   tracer,
		pipeline: pipeline,
		metrics:  metrics,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.POST("/pipeline/run", h.RunPipeline)
	api.GET("/pipeline/latest", h.LatestPipeline)
}
