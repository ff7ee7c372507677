package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetEscalationPolicy retrieves a rule's escalation policy
func (h *Handlers) GetEscalationPolicy(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	policy, err := h.repos.Escalation.GetPolicy(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, policy)
}

// SetEscalationPolicy creates or replaces a rule's escalation policy
func (h *Handlers) SetEscalationPolicy(c *gin.Context) {
	var request struct {
		Enabled bool                     `json:"enabled"`
		Levels  []models.EscalationLevel `json:"levels" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	for _, level := range request.Levels {
		if level.Level <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Escalation levels must be positive")
			return
		}
		if level.Severity != "" && !alerting.ValidSeverity(level.Severity) {
			utils.SendError(c, http.StatusBadRequest, "Unknown severity: "+level.Severity)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ruleID := c.Param("id")
	if _, err := h.repos.Rule.GetByID(ctx, ruleID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	levels, _ := json.Marshal(request.Levels)
	policy := &models.EscalationPolicy{
		RuleID:  ruleID,
		Enabled: request.Enabled,
		Levels:  levels,
	}
	if err := h.repos.Escalation.SetPolicy(ctx, policy); err != nil {
		h.logger.WithError(err).Errorf("Failed to set escalation policy: %s", ruleID)
		utils.SendError(c, http.StatusInternalServerError, "Failed to store escalation policy")
		return
	}

	utils.SendSuccess(c, policy)
}

// DeleteEscalationPolicy removes a rule's escalation policy
func (h *Handlers) DeleteEscalationPolicy(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ruleID := c.Param("id")
	if err := h.repos.Escalation.DeletePolicy(ctx, ruleID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Escalation policy deleted", "rule_id": ruleID})
}

// GetAlertEscalations lists the escalations issued for an alert
func (h *Handlers) GetAlertEscalations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := h.repos.Escalation.GetByAlert(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, records, gin.H{"count": len(records)})
}
