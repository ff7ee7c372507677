package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetAlerts queries alerts with optional filters
func (h *Handlers) GetAlerts(c *gin.Context) {
	filter, ok := parseAlertFilter(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	alerts, err := h.state.QueryAlerts(ctx, filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query alerts")
		utils.SendError(c, http.StatusInternalServerError, "Failed to retrieve alerts")
		return
	}

	utils.SendSuccessWithMeta(c, alerts, gin.H{
		"count":  len(alerts),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseAlertFilter(c *gin.Context) (repositories.AlertFilter, bool) {
	filter := repositories.AlertFilter{
		RuleIDs:    splitParam(c.Query("rule_id")),
		States:     splitParam(c.Query("state")),
		Severities: splitParam(c.Query("severity")),
		Ascending:  c.Query("order") == "asc",
		Limit:      100,
	}

	for _, s := range filter.States {
		if !alerting.ValidState(s) {
			utils.SendError(c, http.StatusBadRequest, "Unknown state: "+s)
			return filter, false
		}
	}
	for _, s := range filter.Severities {
		if !alerting.ValidSeverity(s) {
			utils.SendError(c, http.StatusBadRequest, "Unknown severity: "+s)
			return filter, false
		}
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid limit")
			return filter, false
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid offset")
			return filter, false
		}
		filter.Offset = n
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "Invalid since timestamp, expected RFC3339")
			return filter, false
		}
		filter.Since = &t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "Invalid until timestamp, expected RFC3339")
			return filter, false
		}
		filter.Until = &t
	}

	return filter, true
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAlert retrieves a specific alert
func (h *Handlers) GetAlert(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	alert, err := h.state.GetAlert(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, alert)
}

// GetAlertTransitions retrieves the state change history of an alert
func (h *Handlers) GetAlertTransitions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	transitions, err := h.state.GetTransitions(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, transitions, gin.H{"count": len(transitions)})
}

type actorRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (h *Handlers) transitionAlert(c *gin.Context, toState string) {
	var request actorRequest
	if err := c.ShouldBindJSON(&request); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	alert, err := h.state.Transition(ctx, c.Param("id"), toState, request.Actor, request.Note)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, alert)
}

// AcknowledgeAlert marks an active alert as acknowledged
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	h.transitionAlert(c, alerting.StateAcknowledged)
}

// ResolveAlert marks an alert as resolved
func (h *Handlers) ResolveAlert(c *gin.Context) {
	h.transitionAlert(c, alerting.StateResolved)
}

// SilenceAlert silences an alert for the rule's silence duration
func (h *Handlers) SilenceAlert(c *gin.Context) {
	h.transitionAlert(c, alerting.StateSilenced)
}

// TransitionAlert applies an arbitrary state transition to an alert
func (h *Handlers) TransitionAlert(c *gin.Context) {
	var request struct {
		ToState string `json:"to_state" binding:"required"`
		Actor   string `json:"actor"`
		Note    string `json:"note"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !alerting.ValidState(request.ToState) {
		utils.SendError(c, http.StatusBadRequest, "Unknown state: "+request.ToState)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	alert, err := h.state.Transition(ctx, c.Param("id"), request.ToState, request.Actor, request.Note)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, alert)
}

// BatchTransitionAlerts applies state transitions to multiple alerts.
// Individual failures are reported without aborting the batch.
func (h *Handlers) BatchTransitionAlerts(c *gin.Context) {
	var request struct {
		Transitions []alerting.TransitionRequest `json:"transitions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	utils.SendSuccess(c, h.state.BatchTransition(ctx, request.Transitions))
}

// GetAlertStats returns the running alerting statistics
func (h *Handlers) GetAlertStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.state.GetStats(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to collect alert stats")
		utils.SendError(c, http.StatusInternalServerError, "Failed to collect alert stats")
		return
	}

	utils.SendSuccess(c, stats)
}
