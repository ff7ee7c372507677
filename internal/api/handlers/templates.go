package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

type templateRequest struct {
	Name        string                    `json:"name" binding:"required"`
	ChannelType string                    `json:"channel_type" binding:"required"`
	Subject     string                    `json:"subject"`
	Body        string                    `json:"body" binding:"required"`
	Variables   []models.TemplateVariable `json:"variables"`
}

func (r *templateRequest) apply(template *models.NotificationTemplate) {
	template.Name = r.Name
	template.ChannelType = r.ChannelType
	template.Body = r.Body
	if r.Subject != "" {
		template.Subject = sql.NullString{String: r.Subject, Valid: true}
	} else {
		template.Subject = sql.NullString{}
	}
	if len(r.Variables) > 0 {
		template.Variables, _ = json.Marshal(r.Variables)
	} else {
		template.Variables = nil
	}
}

// GetTemplates lists all notification templates
func (h *Handlers) GetTemplates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	templates, err := h.repos.Template.GetAll(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get notification templates")
		utils.SendError(c, http.StatusInternalServerError, "Failed to retrieve templates")
		return
	}

	utils.SendSuccessWithMeta(c, templates, gin.H{"count": len(templates)})
}

// GetTemplate retrieves a specific notification template
func (h *Handlers) GetTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	template, err := h.repos.Template.GetByID(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, template)
}

// CreateTemplate creates a notification template
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var request templateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !alerting.ValidChannel(request.ChannelType) {
		utils.SendError(c, http.StatusBadRequest, "Unknown channel type: "+request.ChannelType)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	template := &models.NotificationTemplate{ID: uuid.New().String()}
	request.apply(template)

	if err := h.repos.Template.Create(ctx, template); err != nil {
		h.logger.WithError(err).Errorf("Failed to create template: %s", template.Name)
		utils.SendError(c, http.StatusInternalServerError, "Failed to create template")
		return
	}

	utils.SendCreated(c, template)
}

// UpdateTemplate updates a notification template
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	var request templateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !alerting.ValidChannel(request.ChannelType) {
		utils.SendError(c, http.StatusBadRequest, "Unknown channel type: "+request.ChannelType)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	template, err := h.repos.Template.GetByID(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	request.apply(template)

	if err := h.repos.Template.Update(ctx, template); err != nil {
		h.logger.WithError(err).Errorf("Failed to update template: %s", template.ID)
		utils.SendError(c, http.StatusInternalServerError, "Failed to update template")
		return
	}

	utils.SendSuccess(c, template)
}

// DeleteTemplate removes a notification template
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	templateID := c.Param("id")
	if err := h.repos.Template.Delete(ctx, templateID); err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Template deleted", "template_id": templateID})
}

// PreviewTemplate renders a template body against a sample or existing alert
func (h *Handlers) PreviewTemplate(c *gin.Context) {
	var request struct {
		Body    string `json:"body" binding:"required"`
		AlertID string `json:"alert_id"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	alert := sampleAlertForPreview()
	if request.AlertID != "" {
		existing, err := h.state.GetAlert(ctx, request.AlertID)
		if err != nil {
			utils.SendAppError(c, err)
			return
		}
		alert = existing
	}

	utils.SendSuccess(c, gin.H{"rendered": alerting.RenderTemplate(request.Body, alert)})
}

func sampleAlertForPreview() *models.Alert {
	return &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      "sample-rule",
		RuleName:    "Sample rule",
		State:       alerting.StateActive,
		Severity:    alerting.SeverityWarning,
		Message:     "Sample alert message",
		Value:       "42",
		Threshold:   "30",
		TriggeredAt: time.Now().UTC(),
	}
}
