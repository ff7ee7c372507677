package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/pkg/utils"
)

// GetNotifications lists recent notification delivery attempts
func (h *Handlers) GetNotifications(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := h.repos.Notification.GetRecent(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get notification history")
		utils.SendError(c, http.StatusInternalServerError, "Failed to retrieve notifications")
		return
	}

	utils.SendSuccessWithMeta(c, records, gin.H{"count": len(records), "limit": limit})
}

// GetAlertNotifications lists the delivery attempts for one alert
func (h *Handlers) GetAlertNotifications(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := h.repos.Notification.GetByAlert(ctx, c.Param("id"))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccessWithMeta(c, records, gin.H{"count": len(records)})
}

// GetNotificationStats summarizes delivery outcomes over a recent window
func (h *Handlers) GetNotificationStats(c *gin.Context) {
	window := 24 * time.Hour
	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			utils.SendError(c, http.StatusBadRequest, "Invalid window")
			return
		}
		window = d
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	since := time.Now().Add(-window)
	stats := gin.H{"window": window.String()}
	for _, status := range []string{alerting.NotificationSent, alerting.NotificationFailed, alerting.NotificationSkipped} {
		count, err := h.repos.Notification.CountByStatusSince(ctx, status, since)
		if err != nil {
			h.logger.WithError(err).Error("Failed to count notifications")
			utils.SendError(c, http.StatusInternalServerError, "Failed to collect notification stats")
			return
		}
		stats[status] = count
	}

	utils.SendSuccess(c, stats)
}

// TestNotificationChannel delivers a canned test message through a channel
// without recording history.
func (h *Handlers) TestNotificationChannel(c *gin.Context) {
	var request struct {
		Channel string            `json:"channel" binding:"required"`
		Config  map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !alerting.ValidChannel(request.Channel) {
		utils.SendError(c, http.StatusBadRequest, "Unknown channel: "+request.Channel)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	cfg := models.NotificationConfig{
		ID:      "channel-test",
		Channel: request.Channel,
		Enabled: true,
		Config:  request.Config,
	}
	if err := h.dispatcher.TestChannel(ctx, cfg); err != nil {
		utils.SendAppError(c, err)
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Test notification sent", "channel": request.Channel})
}
