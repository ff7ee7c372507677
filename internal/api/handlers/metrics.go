package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetMetricNames lists the metric names known to the registry
func (h *Handlers) GetMetricNames(c *gin.Context) {
	names := h.registry.MetricNames()
	utils.SendSuccessWithMeta(c, names, gin.H{"count": len(names)})
}

// GetMetricValue collects the current value of one metric
func (h *Handlers) GetMetricValue(c *gin.Context) {
	metric := c.Param("name")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	value, err := h.registry.Value(ctx, metric)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"metric": metric, "value": value})
}

// PushMetric stores externally reported metric readings in the gauge
// provider so rules can evaluate them.
func (h *Handlers) PushMetric(c *gin.Context) {
	var request struct {
		Readings map[string]string `json:"readings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(request.Readings) == 0 {
		utils.SendError(c, http.StatusBadRequest, "No readings provided")
		return
	}

	for metric, value := range request.Readings {
		h.gauge.Set(metric, value)
	}

	utils.SendSuccess(c, gin.H{"accepted": len(request.Readings)})
}
