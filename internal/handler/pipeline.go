package handler

import (
	"errors"
	"io"
	"net/http"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/pipeline"
	"selective-alpha/internal/service"

	"github.com/gin-gonic/gin"
)

type runRequest struct {
	Tables []domain.PriceTable `json:"tables"`
}

// RunPipeline godoc
// @Summary      Run the selection pipeline
// @Description  Runs one pipeline pass on the price tables in the body, or on the stored candles when the body is empty
// @Tags         pipeline
// @Accept       json
// @Produce      json
// @Param        request  body  runRequest  false  "Price tables, one per instrument"
// @Success      200  {object}  pipeline.Result
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/pipeline/run [post]
func (h *Handler) RunPipeline(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-pipeline")
	defer span.End()

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.pipeline.Run(ctx, req.Tables)
	if err != nil {
		c.JSON(runStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// LatestPipeline godoc
// @Summary      Latest pipeline result
// @Description  Returns the most recent pipeline result from the cache
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  pipeline.Result
// @Failure      404  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/pipeline/latest [get]
func (h *Handler) LatestPipeline(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.latest-pipeline")
	defer span.End()

	res, err := h.pipeline.Latest(ctx)
	if errors.Is(err, service.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func runStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoInstruments), errors.Is(err, pipeline.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
