package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

type ruleRequest struct {
	Name            string                      `json:"name" binding:"required"`
	Description     string                      `json:"description"`
	Enabled         *bool                       `json:"enabled"`
	Severity        string                      `json:"severity" binding:"required"`
	Metric          string                      `json:"metric"`
	Condition       string                      `json:"condition"`
	Threshold       string                      `json:"threshold"`
	WindowSeconds   int                         `json:"window_seconds"`
	IntervalSeconds int                         `json:"interval_seconds"`
	SilenceSeconds  int                         `json:"silence_seconds"`
	Dependencies    []string                    `json:"dependencies"`
	Notifications   []models.NotificationConfig `json:"notifications"`
	Tags            []string                    `json:"tags"`
	CreatedBy       string                      `json:"created_by"`
}

func (r *ruleRequest) validate() (string, bool) {
	if !alerting.ValidSeverity(r.Severity) {
		return "Unknown severity", false
	}
	if len(r.Dependencies) == 0 {
		if r.Metric == "" {
			return "Metric is required for rules without dependencies", false
		}
		if !alerting.ValidCondition(r.Condition) {
			return "Unknown condition operator", false
		}
	}
	for _, n := range r.Notifications {
		if !alerting.ValidChannel(n.Channel) {
			return "Unknown notification channel: " + n.Channel, false
		}
	}
	return "", true
}

func (r *ruleRequest) apply(rule *models.AlertRule) {
	rule.Name = r.Name
	rule.Severity = r.Severity
	rule.Metric = r.Metric
	rule.Condition = r.Condition
	rule.Threshold = r.Threshold
	rule.WindowSeconds = r.WindowSeconds
	rule.IntervalSeconds = r.IntervalSeconds
	rule.SilenceSeconds = r.SilenceSeconds

	if r.Description != "" {
		rule.Description = sql.NullString{String: r.Description, Valid: true}
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	rule.Dependencies = marshalOrNull(r.Dependencies)
	rule.Tags = marshalOrNull(r.Tags)
	if len(r.Notifications) > 0 {
		rule.Notifications, _ = json.Marshal(r.Notifications)
	} else {
		rule.Notifications = nil
	}
}

func marshalOrNull(list []string) types.JSONText {
	if len(list) == 0 {
		return nil
	}
	raw, _ := json.Marshal(list)
	return raw
}

// GetRules retrieves all alert rules
func (h *Handlers) GetRules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var (
		rules []*models.AlertRule
		err   error
	)
	if c.Query("enabled") == "true" {
		rules, err = h.repos.Rule.GetEnabled(ctx)
	} else {
		rules, err = h.repos.Rule.GetAll(ctx)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get alert rules")
		utils.SendError(c, http.StatusInternalServerError, "Failed to retrieve rules")
		return
	}

	utils.SendSuccessWithMeta(c, rules, gin.H{
		"count":     len(rules),
		"scheduled": h.evaluator.ScheduledCount(),
	})
}

// GetRule retrieves a specific alert rule
func (h *Handlers) GetRule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rule, err := h.repos.Rule.GetByID(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, rule)
}

// CreateRule creates a new alert rule and schedules it
func (h *Handlers) CreateRule(c *gin.Context) {
	var request ruleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg, ok := request.validate(); !ok {
		utils.SendError(c, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rule := &models.AlertRule{
		ID:      uuid.New().String(),
		Enabled: true,
	}
	request.apply(rule)
	if request.CreatedBy != "" {
		rule.CreatedBy = sql.NullString{String: request.CreatedBy, Valid: true}
	}

	if err := h.repos.Rule.Create(ctx, rule); err != nil {
		h.logger.WithError(err).Errorf("Failed to create rule: %s", rule.Name)
		utils.SendError(c, http.StatusInternalServerError, "Failed to create rule")
		return
	}

	h.evaluator.ScheduleRule(rule)
	utils.SendCreated(c, rule)
}

// UpdateRule updates an existing alert rule and reschedules it
func (h *Handlers) UpdateRule(c *gin.Context) {
	var request ruleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg, ok := request.validate(); !ok {
		utils.SendError(c, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rule, err := h.repos.Rule.GetByID(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	request.apply(rule)

	if err := h.repos.Rule.Update(ctx, rule); err != nil {
		h.logger.WithError(err).Errorf("Failed to update rule: %s", rule.ID)
		utils.SendError(c, http.StatusInternalServerError, "Failed to update rule")
		return
	}

	h.evaluator.ScheduleRule(rule)
	utils.SendSuccess(c, rule)
}

// DeleteRule removes an alert rule and unschedules it
func (h *Handlers) DeleteRule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ruleID := c.Param("id")
	if err := h.repos.Rule.Delete(ctx, ruleID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	h.evaluator.UnscheduleRule(ruleID)
	utils.SendSuccess(c, gin.H{"message": "Rule deleted", "rule_id": ruleID})
}

// SetRuleEnabled enables or disables an alert rule
func (h *Handlers) SetRuleEnabled(c *gin.Context) {
	var request struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ruleID := c.Param("id")
	if err := h.repos.Rule.SetEnabled(ctx, ruleID, request.Enabled); err != nil {
		utils.SendAppError(c, err)
		return
	}

	if request.Enabled {
		if rule, err := h.repos.Rule.GetByID(ctx, ruleID); err == nil {
			h.evaluator.ScheduleRule(rule)
		}
	} else {
		h.evaluator.UnscheduleRule(ruleID)
	}

	utils.SendSuccess(c, gin.H{"rule_id": ruleID, "enabled": request.Enabled})
}

// TestRule evaluates a rule without creating or resolving alerts
func (h *Handlers) TestRule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	rule, err := h.repos.Rule.GetByID(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, h.evaluator.TestRule(ctx, rule))
}

// ReloadRules reloads rule definitions from the configured rules file and
// rebuilds the evaluation schedule.
func (h *Handlers) ReloadRules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	loaded := 0
	if h.cfg.Alerting.RulesFile != "" {
		n, err := alerting.LoadRulesFile(ctx, h.cfg.Alerting.RulesFile, h.repos.Rule, h.logger)
		if err != nil {
			h.logger.WithError(err).Error("Failed to load rules file")
			utils.SendError(c, http.StatusInternalServerError, "Failed to load rules file")
			return
		}
		loaded = n
	}

	scheduled, err := h.evaluator.ReloadRules(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to rebuild rule schedule")
		utils.SendError(c, http.StatusInternalServerError, "Failed to rebuild rule schedule")
		return
	}

	utils.SendSuccess(c, gin.H{"loaded": loaded, "scheduled": scheduled})
}
