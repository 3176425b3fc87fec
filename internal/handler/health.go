package handler

import (
	"net/http"

	"selective-alpha/pkg/tracing"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Health godoc
// @Summary      Health check
// @Description  Liveness check. Does not touch Postgres, Redis or Kafka.
// @Tags         health
// @Produce      json
// @Success      200  {object}  healthResponse
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: tracing.ServiceName,
		Version: tracing.ServiceVersion,
	})
}
