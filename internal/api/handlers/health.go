package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/mpesa-reconciler/internal/api/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Handle handles the health check request.
func (h *HealthHandler) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewHealthResponse())
}
