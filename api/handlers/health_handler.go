package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by /health
const Version = "1.0.0"

// Runner is a background component that can report whether it runs
type Runner interface {
	IsRunning() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	components map[string]Runner
}

// NewHealthHandler creates a health handler over the named components
func NewHealthHandler(components map[string]Runner) *HealthHandler {
	return &HealthHandler{components: components}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	Components map[string]bool `json:"components"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:     "ok",
		Version:    Version,
		Components: make(map[string]bool, len(h.components)),
	}
	for name, r := range h.components {
		response.Components[name] = r.IsRunning()
	}
	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	for name, r := range h.components {
		if !r.IsRunning() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": name + " not running",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
