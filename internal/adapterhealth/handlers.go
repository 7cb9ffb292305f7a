package adapterhealth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the fleet-wide adapter health view over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler builds a Handler over registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes mounts GET /adapters/health.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/adapters/health", h.List)
}

// List returns every adapter's most recently published health entry.
func (h *Handler) List(c *gin.Context) {
	entries, err := h.registry.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"adapters": entries, "count": len(entries)})
}
