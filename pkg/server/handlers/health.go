package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-timeline"
	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/server/dto"
)

const serviceName = "go-timeline"

// HealthHandler handles health check requests
type HealthHandler struct {
	client *timeline.Client
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(client *timeline.Client) *HealthHandler {
	return &HealthHandler{client: client}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// ReadinessCheck handles GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.client.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "waiting_for_store",
			"service": serviceName,
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.client.Driver().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "store_unreachable",
			Message: err.Error(),
			Code:    http.StatusServiceUnavailable,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": serviceName,
	})
}

// Status handles GET /status
func (h *HealthHandler) Status(c *gin.Context) {
	m := h.client.Maintainer()
	resp := dto.StatusResponse{
		StoreAvailable: h.client.Available(),
		State:          m.State().String(),
	}
	if next := m.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	if last, ok := m.LastRun(); ok {
		resp.LastRun = &last
	}
	if rd, ok := h.client.Driver().(*driver.ResilientDriver); ok {
		resp.Breaker = rd.State()
	}
	c.JSON(http.StatusOK, resp)
}
