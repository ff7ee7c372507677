package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// Health returns the health status of the service
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealthy := h.db.PingContext(ctx) == nil
	cacheHealthy := h.cache.Ping(ctx) == nil

	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "wms-alerting",
		"engine":    h.engine.Status(),
		"database":  dbHealthy,
		"cache":     cacheHealthy,
	}

	if !dbHealthy {
		health["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	if !cacheHealthy {
		health["status"] = "degraded"
	}

	utils.SendSuccess(c, health)
}
