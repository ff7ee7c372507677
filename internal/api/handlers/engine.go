package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetEngineStatus reports the engine lifecycle state and schedule size
func (h *Handlers) GetEngineStatus(c *gin.Context) {
	utils.SendSuccess(c, gin.H{
		"status":          h.engine.Status(),
		"scheduled_rules": h.evaluator.ScheduledCount(),
		"ws_clients":      h.wsHub.GetClientCount(),
	})
}

// StartEngine starts the alerting engine if it is stopped
func (h *Handlers) StartEngine(c *gin.Context) {
	if err := h.engine.Start(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to start alerting engine")
		utils.SendError(c, http.StatusInternalServerError, "Failed to start engine")
		return
	}

	utils.SendSuccess(c, gin.H{"status": h.engine.Status()})
}

// StopEngine stops the alerting engine if it is running
func (h *Handlers) StopEngine(c *gin.Context) {
	h.engine.Stop()
	utils.SendSuccess(c, gin.H{"status": h.engine.Status()})
}
