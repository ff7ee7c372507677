package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// validTransitions lists the reachable states from each alert state. Any
// pair not listed here is rejected without touching storage.
var validTransitions = map[string][]string{
	StateActive:       {StateResolved, StateAcknowledged, StateSilenced},
	StateResolved:     {StateActive},
	StateAcknowledged: {StateResolved, StateSilenced},
	StateSilenced:     {StateActive, StateResolved},
}

func transitionAllowed(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRequest identifies one alert state change in a batch.
type TransitionRequest struct {
	AlertID string `json:"alert_id"`
	ToState string `json:"to_state"`
	Actor   string `json:"actor,omitempty"`
	Note    string `json:"note,omitempty"`
}

// BatchResult reports the outcome of a batch transition. Individual failures
// are collected; they never abort the remaining requests.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Stats summarizes alerting activity from the running cache counters.
type Stats struct {
	TotalTriggered       int64            `json:"total_triggered"`
	TotalResolved        int64            `json:"total_resolved"`
	TotalAcknowledged    int64            `json:"total_acknowledged"`
	TotalEscalated       int64            `json:"total_escalated"`
	ActiveCount          int              `json:"active_count"`
	BySeverity           map[string]int64 `json:"by_severity"`
	AvgResolutionSeconds float64          `json:"avg_resolution_seconds"`
}

// StateManager owns the alert lifecycle: creation, state transitions,
// suppressions and the running statistics counters.
type StateManager struct {
	alerts       repositories.AlertRepository
	rules        repositories.RuleRepository
	suppressions repositories.SuppressionRepository
	cache        cache.Service
	bus          *EventBus
	logger       *logrus.Logger

	activeTTL      time.Duration
	defaultSilence time.Duration
	now            func() time.Time
}

// NewStateManager creates a state manager. activeTTL bounds the cache marker
// that guards single-active-alert creation; defaultSilence is used when a
// suppression is created without an explicit duration.
func NewStateManager(
	alerts repositories.AlertRepository,
	rules repositories.RuleRepository,
	suppressions repositories.SuppressionRepository,
	cacheSvc cache.Service,
	bus *EventBus,
	logger *logrus.Logger,
	activeTTL, defaultSilence time.Duration,
) *StateManager {
	if activeTTL <= 0 {
		activeTTL = 24 * time.Hour
	}
	if defaultSilence <= 0 {
		defaultSilence = time.Hour
	}
	return &StateManager{
		alerts:         alerts,
		rules:          rules,
		suppressions:   suppressions,
		cache:          cacheSvc,
		bus:            bus,
		logger:         logger,
		activeTTL:      activeTTL,
		defaultSilence: defaultSilence,
		now:            time.Now,
	}
}

// SetClock overrides the time source for tests.
func (sm *StateManager) SetClock(now func() time.Time) {
	sm.now = now
}

// TriggerAlert creates an active alert for the rule unless one already
// exists. The cache marker is claimed first with SetNX so two concurrent
// evaluations cannot both create an alert; the store is consulted when the
// marker is absent to survive cache restarts. Returns the alert and whether
// it was newly created.
func (sm *StateManager) TriggerAlert(ctx context.Context, rule *models.AlertRule, value, message string) (*models.Alert, bool, error) {
	claimed, err := sm.cache.SetNX(ctx, activeAlertKey(rule.ID), "1", sm.activeTTL)
	if err != nil {
		sm.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Active alert marker unavailable, falling back to store check")
	}
	if err == nil && !claimed {
		existing, lookupErr := sm.alerts.GetActiveByRule(ctx, rule.ID)
		if lookupErr == nil {
			return existing, false, nil
		}
		if !apperrors.IsNotFound(lookupErr) {
			return nil, false, lookupErr
		}
		// Stale marker with no backing alert; fall through and create.
	}

	if existing, lookupErr := sm.alerts.GetActiveByRule(ctx, rule.ID); lookupErr == nil {
		return existing, false, nil
	} else if !apperrors.IsNotFound(lookupErr) {
		return nil, false, lookupErr
	}

	now := sm.now().UTC()
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		State:       StateActive,
		Severity:    rule.Severity,
		Message:     message,
		Value:       value,
		Threshold:   rule.Threshold,
		TriggeredAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tags := rule.TagList(); len(tags) > 0 {
		labels := make(map[string]string, len(tags))
		for _, tag := range tags {
			labels[tag] = "true"
		}
		if raw, marshalErr := json.Marshal(labels); marshalErr == nil {
			alert.Labels = raw
		}
	}

	if err := sm.alerts.Create(ctx, alert); err != nil {
		return nil, false, err
	}
	if err := sm.alerts.RecordTransition(ctx, &models.AlertTransition{
		AlertID:   alert.ID,
		FromState: "",
		ToState:   StateActive,
		Actor:     sql.NullString{String: "system", Valid: true},
		CreatedAt: now,
	}); err != nil {
		sm.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to record trigger transition")
	}

	sm.bumpStat(ctx, "total_triggered", 1)
	sm.bumpStat(ctx, "severity:"+alert.Severity, 1)

	sm.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"rule_id":  rule.ID,
		"severity": alert.Severity,
		"value":    value,
	}).Info("Alert triggered")

	sm.bus.Publish(Event{Type: EventRuleTriggered, Alert: alert, Rule: rule})
	return alert, true, nil
}

// Transition moves an alert to a new state. Invalid transitions return an
// InvalidTransition error and leave the alert untouched.
func (sm *StateManager) Transition(ctx context.Context, alertID, toState, actor, note string) (*models.Alert, error) {
	if !ValidState(toState) {
		return nil, apperrors.NewConfiguration(fmt.Sprintf("unknown alert state: %s", toState))
	}

	alert, err := sm.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	fromState := alert.State
	if !transitionAllowed(fromState, toState) {
		return nil, apperrors.NewInvalidTransition(fromState, toState)
	}

	now := sm.now().UTC()
	alert.State = toState
	alert.UpdatedAt = now

	switch toState {
	case StateResolved:
		alert.ResolvedAt = sql.NullTime{Time: now, Valid: true}
	case StateAcknowledged:
		alert.AcknowledgedAt = sql.NullTime{Time: now, Valid: true}
		alert.AcknowledgedBy = sql.NullString{String: actor, Valid: actor != ""}
	case StateSilenced:
		alert.SilencedUntil = sql.NullTime{Time: now.Add(sm.silenceFor(ctx, alert.RuleID)), Valid: true}
	case StateActive:
		alert.ResolvedAt = sql.NullTime{}
		alert.SilencedUntil = sql.NullTime{}
	}

	if err := sm.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	if err := sm.alerts.RecordTransition(ctx, &models.AlertTransition{
		AlertID:   alert.ID,
		FromState: fromState,
		ToState:   toState,
		Actor:     sql.NullString{String: actor, Valid: actor != ""},
		Note:      sql.NullString{String: note, Valid: note != ""},
		CreatedAt: now,
	}); err != nil {
		sm.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to record transition")
	}

	sm.afterTransition(ctx, alert, fromState, toState)

	sm.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"from":     fromState,
		"to":       toState,
		"actor":    actor,
	}).Info("Alert state changed")

	sm.bus.Publish(Event{Type: EventStateChanged, Alert: alert, FromState: fromState, ToState: toState})
	if toState == StateResolved {
		sm.bus.Publish(Event{Type: EventAlertResolved, Alert: alert, FromState: fromState, ToState: toState})
	}
	return alert, nil
}

// silenceFor resolves the silence window for an alert's rule. Rules may
// carry their own silence duration; the configured default covers the rest.
func (sm *StateManager) silenceFor(ctx context.Context, ruleID string) time.Duration {
	rule, err := sm.rules.GetByID(ctx, ruleID)
	if err == nil && rule.SilenceSeconds > 0 {
		return rule.SilenceDuration()
	}
	return sm.defaultSilence
}

func (sm *StateManager) afterTransition(ctx context.Context, alert *models.Alert, fromState, toState string) {
	switch toState {
	case StateResolved:
		if err := sm.cache.Delete(ctx, activeAlertKey(alert.RuleID)); err != nil {
			sm.logger.WithError(err).WithField("rule_id", alert.RuleID).Debug("Failed to clear active alert marker")
		}
		sm.bumpStat(ctx, "total_resolved", 1)
		sm.recordResolutionTime(ctx, alert)
	case StateAcknowledged:
		sm.bumpStat(ctx, "total_acknowledged", 1)
	case StateActive:
		if fromState == StateResolved {
			// Re-activation claims the marker again so the single active
			// alert guarantee holds for subsequent evaluations.
			if _, err := sm.cache.SetNX(ctx, activeAlertKey(alert.RuleID), "1", sm.activeTTL); err != nil {
				sm.logger.WithError(err).WithField("rule_id", alert.RuleID).Debug("Failed to reclaim active alert marker")
			}
		}
	}
}

// recordResolutionTime folds the alert's time-to-resolution into the running
// average stored in the stats hash.
func (sm *StateManager) recordResolutionTime(ctx context.Context, alert *models.Alert) {
	if !alert.ResolvedAt.Valid {
		return
	}
	rt := alert.ResolvedAt.Time.Sub(alert.TriggeredAt).Seconds()
	if rt < 0 {
		return
	}

	count, err := sm.cache.HGet(ctx, statsKey, "total_resolved")
	if err != nil {
		return
	}
	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil || n <= 0 {
		return
	}

	avg := 0.0
	if prev, err := sm.cache.HGet(ctx, statsKey, "avg_resolution_seconds"); err == nil {
		avg, _ = strconv.ParseFloat(prev, 64)
	}
	avg = (avg*float64(n-1) + rt) / float64(n)

	if err := sm.cache.HSet(ctx, statsKey, "avg_resolution_seconds", strconv.FormatFloat(avg, 'f', -1, 64)); err != nil {
		sm.logger.WithError(err).Debug("Failed to update resolution time average")
	}
}

func (sm *StateManager) bumpStat(ctx context.Context, field string, delta int64) {
	if _, err := sm.cache.HIncrBy(ctx, statsKey, field, delta); err != nil {
		sm.logger.WithError(err).WithField("field", field).Debug("Failed to update stats counter")
	}
}

// BumpEscalated increments the escalation counter. Used by the orchestrator.
func (sm *StateManager) BumpEscalated(ctx context.Context) {
	sm.bumpStat(ctx, "total_escalated", 1)
}

// GetAlert returns one alert by id.
func (sm *StateManager) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	return sm.alerts.GetByID(ctx, alertID)
}

// QueryAlerts returns alerts matching the filter.
func (sm *StateManager) QueryAlerts(ctx context.Context, filter repositories.AlertFilter) ([]*models.Alert, error) {
	return sm.alerts.Query(ctx, filter)
}

// GetTransitions returns the recorded state history for an alert.
func (sm *StateManager) GetTransitions(ctx context.Context, alertID string) ([]*models.AlertTransition, error) {
	return sm.alerts.GetTransitions(ctx, alertID)
}

// BatchTransition applies each request independently and reports per-request
// failures without aborting the batch.
func (sm *StateManager) BatchTransition(ctx context.Context, requests []TransitionRequest) *BatchResult {
	result := &BatchResult{}
	for _, req := range requests {
		if _, err := sm.Transition(ctx, req.AlertID, req.ToState, req.Actor, req.Note); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", req.AlertID, err))
			continue
		}
		result.Processed++
	}
	return result
}

// GetStats builds alert statistics from the running cache counters plus a
// live count of active alerts.
func (sm *StateManager) GetStats(ctx context.Context) (*Stats, error) {
	fields, err := sm.cache.HGetAll(ctx, statsKey)
	if err != nil && !cache.IsNotFound(err) {
		return nil, err
	}

	stats := &Stats{BySeverity: make(map[string]int64)}
	for field, raw := range fields {
		switch field {
		case "total_triggered":
			stats.TotalTriggered, _ = strconv.ParseInt(raw, 10, 64)
		case "total_resolved":
			stats.TotalResolved, _ = strconv.ParseInt(raw, 10, 64)
		case "total_acknowledged":
			stats.TotalAcknowledged, _ = strconv.ParseInt(raw, 10, 64)
		case "total_escalated":
			stats.TotalEscalated, _ = strconv.ParseInt(raw, 10, 64)
		case "avg_resolution_seconds":
			stats.AvgResolutionSeconds, _ = strconv.ParseFloat(raw, 64)
		default:
			if sev, ok := cutPrefix(field, "severity:"); ok {
				stats.BySeverity[sev], _ = strconv.ParseInt(raw, 10, 64)
			}
		}
	}

	active, err := sm.alerts.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	stats.ActiveCount = len(active)
	return stats, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

// CreateSuppression suppresses notifications for a rule. The alert lifecycle
// is unaffected; only dispatch consults the suppression.
func (sm *StateManager) CreateSuppression(ctx context.Context, ruleID, reason, createdBy string, duration time.Duration) (*models.AlertSuppression, error) {
	if _, err := sm.rules.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = sm.defaultSilence
	}

	now := sm.now().UTC()
	suppression := &models.AlertSuppression{
		ID:           uuid.New().String(),
		RuleID:       ruleID,
		Reason:       reason,
		CreatedBy:    sql.NullString{String: createdBy, Valid: createdBy != ""},
		Active:       true,
		SuppressedAt: now,
		ExpiresAt:    sql.NullTime{Time: now.Add(duration), Valid: true},
	}
	if err := sm.suppressions.Create(ctx, suppression); err != nil {
		return nil, err
	}
	if err := sm.cache.Set(ctx, suppressionKey(ruleID), suppression.ID, duration); err != nil {
		sm.logger.WithError(err).WithField("rule_id", ruleID).Warn("Failed to cache suppression marker")
	}

	sm.logger.WithFields(logrus.Fields{
		"rule_id":  ruleID,
		"duration": duration.String(),
		"reason":   reason,
	}).Info("Suppression created")
	return suppression, nil
}

// IsSuppressed reports whether notifications for the rule are currently
// suppressed. The cache marker answers fast; the store is the fallback.
func (sm *StateManager) IsSuppressed(ctx context.Context, ruleID string) bool {
	if _, err := sm.cache.Get(ctx, suppressionKey(ruleID)); err == nil {
		return true
	}

	suppression, err := sm.suppressions.GetActiveByRule(ctx, ruleID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			sm.logger.WithError(err).WithField("rule_id", ruleID).Debug("Suppression lookup failed")
		}
		return false
	}
	return !suppression.Expired(sm.now().UTC())
}

// DeleteSuppression deactivates a suppression and drops its cache marker.
func (sm *StateManager) DeleteSuppression(ctx context.Context, suppressionID string) error {
	suppression, err := sm.suppressions.GetByID(ctx, suppressionID)
	if err != nil {
		return err
	}
	if err := sm.suppressions.Deactivate(ctx, suppressionID); err != nil {
		return err
	}
	if err := sm.cache.Delete(ctx, suppressionKey(suppression.RuleID)); err != nil {
		sm.logger.WithError(err).WithField("rule_id", suppression.RuleID).Debug("Failed to clear suppression marker")
	}
	return nil
}

// ListSuppressions returns all currently active suppressions.
func (sm *StateManager) ListSuppressions(ctx context.Context) ([]*models.AlertSuppression, error) {
	return sm.suppressions.GetActive(ctx)
}

// CleanupExpiredSuppressions deactivates suppressions past their expiry and
// returns how many were removed.
func (sm *StateManager) CleanupExpiredSuppressions(ctx context.Context) (int, error) {
	count, err := sm.suppressions.DeleteExpired(ctx, sm.now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		sm.logger.WithField("count", count).Info("Expired suppressions cleaned up")
	}
	return int(count), nil
}
