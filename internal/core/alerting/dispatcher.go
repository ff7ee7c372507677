package alerting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

const escalationPrefix = "[ESCALATED]"

// dispatchJob is one alert's notification fan-out queued for a worker.
type dispatchJob struct {
	alert            *models.Alert
	configs          []models.NotificationConfig
	severityOverride string
	messagePrefix    string
}

// Dispatcher fans alert notifications out to channel providers. Jobs run on
// a bounded worker pool; each channel config is filtered through its
// delivery conditions and the per-config rate limits before any send.
type Dispatcher struct {
	templates     repositories.TemplateRepository
	notifications repositories.NotificationRepository
	alerts        repositories.AlertRepository
	limiter       *rateLimiter
	bus           *EventBus
	logger        *logrus.Logger

	providers map[string]Provider

	maxRetries int
	retryDelay time.Duration

	queue   chan dispatchJob
	workers int
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	now func() time.Time
}

// NewDispatcher creates a dispatcher with the given providers. maxRetries
// caps delivery attempts per config; retryDelay is the base of the linear
// backoff between attempts.
func NewDispatcher(
	templates repositories.TemplateRepository,
	notifications repositories.NotificationRepository,
	alerts repositories.AlertRepository,
	cacheSvc cache.Service,
	bus *EventBus,
	logger *logrus.Logger,
	providers []Provider,
	maxRetries int,
	retryDelay time.Duration,
	perMinute, perHour int,
	queueSize, workers int,
) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}

	byType := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}

	return &Dispatcher{
		templates:     templates,
		notifications: notifications,
		alerts:        alerts,
		limiter:       newRateLimiter(cacheSvc, logger, perMinute, perHour),
		bus:           bus,
		logger:        logger,
		providers:     byType,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		queue:         make(chan dispatchJob, queueSize),
		workers:       workers,
		now:           time.Now,
	}
}

// Start launches the worker pool. Idempotent.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.WithField("workers", d.workers).Info("Notification dispatcher started")
}

// Stop drains the queue and waits for in-flight deliveries. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		d.dispatch(ctx, job)
		cancel()
	}
}

// Dispatch queues notification delivery for an alert using the rule's own
// channel configs. A full queue drops the job with a log line rather than
// blocking the caller.
func (d *Dispatcher) Dispatch(alert *models.Alert, rule *models.AlertRule) {
	configs, err := rule.NotificationConfigs()
	if err != nil {
		d.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Invalid notification configs on rule")
		return
	}
	d.enqueue(dispatchJob{alert: alert, configs: configs})
}

// DispatchEscalation queues delivery through an escalation level's channel
// configs, overriding the alert severity and prefixing the message.
func (d *Dispatcher) DispatchEscalation(alert *models.Alert, level *models.EscalationLevel) {
	d.enqueue(dispatchJob{
		alert:            alert,
		configs:          level.Notifications,
		severityOverride: level.Severity,
		messagePrefix:    escalationPrefix,
	})
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		d.logger.WithField("alert_id", job.alert.ID).Warn("Dispatcher not running, dropping notification job")
		return
	}

	select {
	case d.queue <- job:
	default:
		d.logger.WithField("alert_id", job.alert.ID).Error("Notification queue full, dropping job")
	}
}

// dispatch delivers one job synchronously. Exposed to the orchestrator's
// tests through the package.
func (d *Dispatcher) dispatch(ctx context.Context, job dispatchJob) {
	alert := job.alert
	if job.severityOverride != "" {
		clone := *alert
		clone.Severity = job.severityOverride
		alert = &clone
	}

	for _, cfg := range job.configs {
		if !cfg.Enabled {
			continue
		}
		if !d.conditionsMet(cfg.Conditions, alert) {
			d.logger.WithFields(logrus.Fields{
				"alert_id":  alert.ID,
				"config_id": cfg.ID,
			}).Debug("Delivery conditions not met, skipping channel")
			continue
		}
		if !d.limiter.allow(ctx, cfg.ID) {
			d.logger.WithFields(logrus.Fields{
				"alert_id":  alert.ID,
				"config_id": cfg.ID,
			}).Warn("Rate limit reached, skipping channel")
			continue
		}
		d.deliver(ctx, alert, cfg, job.messagePrefix)
	}
}

// conditionsMet applies a config's delivery conditions. A nil conditions
// block always delivers. Time windows are inclusive on both ends; a window
// whose start is after its end wraps past midnight.
func (d *Dispatcher) conditionsMet(conditions *models.DeliveryConditions, alert *models.Alert) bool {
	if conditions == nil {
		return true
	}

	if len(conditions.Severities) > 0 {
		found := false
		for _, s := range conditions.Severities {
			if s == alert.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(conditions.TimeWindows) > 0 {
		now := d.now()
		matched := false
		for _, window := range conditions.TimeWindows {
			if timeWindowOpen(window, now) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// timeWindowOpen reports whether now falls inside the window. Day names are
// matched case insensitively against the weekday; an empty day list means
// every day.
func timeWindowOpen(window models.TimeWindow, now time.Time) bool {
	if len(window.Days) > 0 {
		day := strings.ToLower(now.Weekday().String())
		found := false
		for _, d := range window.Days {
			if strings.ToLower(d) == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if window.Start == "" || window.End == "" {
		return true
	}
	current := now.Format("15:04")
	if window.Start <= window.End {
		return current >= window.Start && current <= window.End
	}
	// Window wraps past midnight, e.g. 22:00 to 06:00.
	return current >= window.Start || current <= window.End
}

// deliver renders the message and sends it with linear retry backoff. The
// outcome is recorded in notification history whether or not delivery
// succeeded; the rate counters are charged once because delivery was
// attempted at all.
func (d *Dispatcher) deliver(ctx context.Context, alert *models.Alert, cfg models.NotificationConfig, prefix string) {
	provider, ok := d.providers[cfg.Channel]
	if !ok {
		d.logger.WithField("channel", cfg.Channel).Warn("No provider for channel type")
		return
	}

	msg := d.render(ctx, alert, cfg)
	if prefix != "" {
		msg.Body = prefix + " " + msg.Body
		if msg.Subject != "" {
			msg.Subject = prefix + " " + msg.Subject
		}
	}

	d.limiter.record(ctx, cfg.ID)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		attempts = attempt
		lastErr = provider.Send(ctx, cfg.Config, msg)
		if lastErr == nil {
			break
		}
		d.logger.WithError(lastErr).WithFields(logrus.Fields{
			"alert_id":  alert.ID,
			"config_id": cfg.ID,
			"attempt":   attempt,
		}).Warn("Notification delivery attempt failed")

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				attempt = d.maxRetries
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}

	record := &models.NotificationRecord{
		ID:          uuid.New().String(),
		AlertID:     alert.ID,
		ConfigID:    cfg.ID,
		ChannelType: cfg.Channel,
		Attempts:    attempts,
		CreatedAt:   d.now().UTC(),
	}
	if lastErr == nil {
		record.Status = NotificationSent
		record.SentAt = sql.NullTime{Time: d.now().UTC(), Valid: true}
	} else {
		record.Status = NotificationFailed
		record.Error = sql.NullString{String: lastErr.Error(), Valid: true}
	}
	if err := d.notifications.Create(ctx, record); err != nil {
		d.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to record notification history")
	}

	if lastErr == nil {
		d.bumpNotificationCount(ctx, alert.ID)
		d.bus.Publish(Event{Type: EventNotificationSent, Alert: alert, Channel: cfg.Channel})
		d.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"channel":  cfg.Channel,
			"attempts": attempts,
		}).Info("Notification sent")
	}
}

// render resolves the template for a config: its explicit template id
// first, then the channel type's default template, then the built-in body.
func (d *Dispatcher) render(ctx context.Context, alert *models.Alert, cfg models.NotificationConfig) *Message {
	var tmpl *models.NotificationTemplate
	if cfg.TemplateID != "" {
		t, err := d.templates.GetByID(ctx, cfg.TemplateID)
		if err != nil {
			if !apperrors.IsNotFound(err) {
				d.logger.WithError(err).WithField("template_id", cfg.TemplateID).Warn("Template lookup failed")
			}
		} else {
			tmpl = t
		}
	}
	if tmpl == nil {
		if t, err := d.templates.GetByChannelType(ctx, cfg.Channel); err == nil {
			tmpl = t
		}
	}

	msg := &Message{Alert: alert}
	if tmpl != nil {
		msg.Body = RenderTemplate(tmpl.Body, alert)
		if tmpl.Subject.Valid {
			msg.Subject = RenderTemplate(tmpl.Subject.String, alert)
		}
	} else {
		msg.Body = RenderTemplate(DefaultMessageBody, alert)
	}
	if msg.Subject == "" {
		msg.Subject = fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), alert.RuleName)
	}
	return msg
}

func (d *Dispatcher) bumpNotificationCount(ctx context.Context, alertID string) {
	alert, err := d.alerts.GetByID(ctx, alertID)
	if err != nil {
		return
	}
	alert.NotificationCount++
	alert.UpdatedAt = d.now().UTC()
	if err := d.alerts.Update(ctx, alert); err != nil {
		d.logger.WithError(err).WithField("alert_id", alertID).Debug("Failed to bump notification count")
	}
}

// TestChannel performs a lightweight delivery through the config's provider
// without touching notification history or the rate counters.
func (d *Dispatcher) TestChannel(ctx context.Context, cfg models.NotificationConfig) error {
	provider, ok := d.providers[cfg.Channel]
	if !ok {
		return apperrors.NewConfiguration(fmt.Sprintf("unsupported channel type: %s", cfg.Channel))
	}
	return provider.Test(ctx, cfg.Config)
}
