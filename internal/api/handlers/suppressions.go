package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetSuppressions lists active suppressions
func (h *Handlers) GetSuppressions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	suppressions, err := h.state.ListSuppressions(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list suppressions")
		utils.SendError(c, http.StatusInternalServerError, "Failed to retrieve suppressions")
		return
	}

	utils.SendSuccessWithMeta(c, suppressions, gin.H{"count": len(suppressions)})
}

// CreateSuppression suppresses notifications for a rule
func (h *Handlers) CreateSuppression(c *gin.Context) {
	var request struct {
		RuleID    string `json:"rule_id" binding:"required"`
		Reason    string `json:"reason" binding:"required"`
		CreatedBy string `json:"created_by"`
		Duration  string `json:"duration"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	var duration time.Duration
	if request.Duration != "" {
		d, err := time.ParseDuration(request.Duration)
		if err != nil || d <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid duration")
			return
		}
		duration = d
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	suppression, err := h.state.CreateSuppression(ctx, request.RuleID, request.Reason, request.CreatedBy, duration)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendCreated(c, suppression)
}

// DeleteSuppression lifts a suppression
func (h *Handlers) DeleteSuppression(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	suppressionID := c.Param("id")
	if err := h.state.DeleteSuppression(ctx, suppressionID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Suppression lifted", "suppression_id": suppressionID})
}
