package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// Engine lifecycle states.
const (
	EngineStopped = "stopped"
	EngineRunning = "running"
)

// Engine ties the evaluator, the state manager and the dispatcher together
// and drives the periodic monitoring, escalation and cleanup cycles.
type Engine struct {
	state       *StateManager
	evaluator   *Evaluator
	dispatcher  *Dispatcher
	rules       repositories.RuleRepository
	escalations repositories.EscalationRepository
	cache       cache.Service
	bus         *EventBus
	logger      *logrus.Logger
	cfg         config.MonitoringConfig

	resolvedRetention time.Duration
	historyRetention  time.Duration

	mu     sync.Mutex
	status string
	cron   *cron.Cron
	now    func() time.Time
}

// NewEngine wires the engine and subscribes it to the event bus. Call Start
// to begin evaluating.
func NewEngine(
	state *StateManager,
	evaluator *Evaluator,
	dispatcher *Dispatcher,
	rules repositories.RuleRepository,
	escalations repositories.EscalationRepository,
	cacheSvc cache.Service,
	bus *EventBus,
	logger *logrus.Logger,
	cfg config.MonitoringConfig,
	resolvedRetention, historyRetention time.Duration,
) *Engine {
	e := &Engine{
		state:             state,
		evaluator:         evaluator,
		dispatcher:        dispatcher,
		rules:             rules,
		escalations:       escalations,
		cache:             cacheSvc,
		bus:               bus,
		logger:            logger,
		cfg:               cfg,
		resolvedRetention: resolvedRetention,
		historyRetention:  historyRetention,
		status:            EngineStopped,
		now:               time.Now,
	}

	bus.Subscribe(EventRuleTriggered, e.onRuleTriggered)
	bus.Subscribe(EventAlertResolved, e.onAlertResolved)
	return e
}

// Status returns the engine lifecycle state.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start brings the engine to running: dispatcher workers, evaluator
// schedule and the periodic cycles. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == EngineRunning {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.dispatcher.Start()
	if err := e.evaluator.Start(ctx); err != nil {
		e.dispatcher.Stop()
		return err
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	schedules := []struct {
		interval time.Duration
		job      func()
	}{
		{config.Duration(e.cfg.MonitorInterval), e.monitoringCycle},
		{config.Duration(e.cfg.EscalationInterval), e.escalationCycle},
		{config.Duration(e.cfg.CleanupInterval), e.cleanupCycle},
	}
	for _, s := range schedules {
		if s.interval <= 0 {
			continue
		}
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.job); err != nil {
			e.evaluator.Stop()
			e.dispatcher.Stop()
			return fmt.Errorf("failed to schedule engine cycle: %w", err)
		}
	}
	c.Start()

	e.mu.Lock()
	e.cron = c
	e.status = EngineRunning
	e.mu.Unlock()

	e.logger.Info("Alerting engine started")
	return nil
}

// Stop halts the cycles, the evaluator and the dispatcher. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.status != EngineRunning {
		e.mu.Unlock()
		return
	}
	c := e.cron
	e.cron = nil
	e.status = EngineStopped
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	e.evaluator.Stop()
	e.dispatcher.Stop()
	e.logger.Info("Alerting engine stopped")
}

// onRuleTriggered dispatches notifications for a freshly triggered alert
// unless its rule is suppressed. Suppression gates delivery only; the alert
// itself was already created.
func (e *Engine) onRuleTriggered(event Event) {
	if event.Alert == nil || event.Rule == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.state.IsSuppressed(ctx, event.Alert.RuleID) {
		e.logger.WithFields(logrus.Fields{
			"alert_id": event.Alert.ID,
			"rule_id":  event.Alert.RuleID,
		}).Info("Rule suppressed, notifications withheld")
		return
	}
	e.dispatcher.Dispatch(event.Alert, event.Rule)
}

// onAlertResolved drops the alert's escalation markers so a re-triggered
// alert escalates from level one again.
func (e *Engine) onAlertResolved(event Event) {
	if event.Alert == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, err := e.cache.Keys(ctx, fmt.Sprintf("escalation:%s:*", event.Alert.ID))
	if err != nil || len(keys) == 0 {
		return
	}
	if err := e.cache.Delete(ctx, keys...); err != nil {
		e.logger.WithError(err).WithField("alert_id", event.Alert.ID).Debug("Failed to clear escalation markers")
	}
}

// monitoringCycle probes dependencies of the engine and reconciles
// dependency-gated alerts. It runs on the monitor interval.
func (e *Engine) monitoringCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := e.cache.Ping(ctx); err != nil {
		e.logger.WithError(err).Warn("Cache health probe failed")
	}

	rules, err := e.rules.GetEnabled(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Rule store health probe failed")
		return
	}

	if _, err := e.state.CleanupExpiredSuppressions(ctx); err != nil {
		e.logger.WithError(err).Warn("Suppression sweep failed")
	}

	e.reactivateExpiredSilences(ctx)
	e.reconcileDependents(ctx, rules)
}

// reactivateExpiredSilences returns silenced alerts whose silence window has
// passed to the active state.
func (e *Engine) reactivateExpiredSilences(ctx context.Context) {
	silenced, err := e.state.alerts.GetByState(ctx, StateSilenced)
	if err != nil {
		e.logger.WithError(err).Warn("Silenced alert lookup failed")
		return
	}

	now := e.now().UTC()
	for _, alert := range silenced {
		if !alert.SilencedUntil.Valid || now.Before(alert.SilencedUntil.Time) {
			continue
		}
		if _, err := e.state.Transition(ctx, alert.ID, StateActive, "system", "silence expired"); err != nil {
			e.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to reactivate silenced alert")
		}
	}
}

// reconcileDependents resolves active alerts on dependency-gated rules whose
// gate has closed, so a dependent alert never outlives every alert it was
// gated on.
func (e *Engine) reconcileDependents(ctx context.Context, rules []*models.AlertRule) {
	for _, rule := range rules {
		deps := rule.DependencyIDs()
		if len(deps) == 0 {
			continue
		}

		alert, err := e.state.alerts.GetActiveByRule(ctx, rule.ID)
		if err != nil {
			if !apperrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Dependent alert lookup failed")
			}
			continue
		}

		open, err := e.evaluator.dependencyGateOpen(ctx, deps)
		if err != nil {
			e.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Dependency gate check failed")
			continue
		}
		if open {
			continue
		}
		if _, err := e.state.Transition(ctx, alert.ID, StateResolved, "system", "dependencies cleared"); err != nil {
			e.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to resolve dependent alert")
		}
	}
}

// escalationCycle walks every active alert and fires any escalation level
// whose delay has elapsed. A cache marker per alert and level guarantees
// each level fires once even across engine restarts; the markers carry a
// bounded TTL so they cannot accumulate. Escalation never changes alert
// state.
func (e *Engine) escalationCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	active, err := e.state.alerts.GetActive(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to list active alerts for escalation")
		return
	}

	now := e.now().UTC()
	for _, alert := range active {
		policy, err := e.escalations.GetPolicy(ctx, alert.RuleID)
		if err != nil {
			if !apperrors.IsNotFound(err) {
				e.logger.WithError(err).WithField("rule_id", alert.RuleID).Warn("Escalation policy lookup failed")
			}
			continue
		}
		if !policy.Enabled {
			continue
		}

		levels, err := policy.LevelList()
		if err != nil {
			e.logger.WithError(err).WithField("rule_id", alert.RuleID).Warn("Invalid escalation policy levels")
			continue
		}
		for _, level := range levels {
			if e.cfg.MaxEscalationLevel > 0 && level.Level > e.cfg.MaxEscalationLevel {
				continue
			}
			delay := level.Delay()
			if delay <= 0 {
				delay = config.Duration(e.cfg.EscalationAfter) * time.Duration(level.Level)
			}
			if now.Sub(alert.TriggeredAt) < delay {
				continue
			}
			e.fireEscalation(ctx, alert, level)
		}
	}
}

func (e *Engine) fireEscalation(ctx context.Context, alert *models.Alert, level models.EscalationLevel) {
	claimed, err := e.cache.SetNX(ctx, escalationMarkKey(alert.ID, level.Level), "1", escalationMarkTTL)
	if err != nil {
		e.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Escalation marker unavailable")
		return
	}
	if !claimed {
		return
	}

	e.dispatcher.DispatchEscalation(alert, &level)
	e.state.BumpEscalated(ctx)

	if err := e.escalations.Record(ctx, &models.EscalationRecord{
		AlertID:   alert.ID,
		Level:     level.Level,
		CreatedAt: e.now().UTC(),
	}); err != nil {
		e.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to record escalation")
	}

	if level.Level > alert.EscalationLevel {
		alert.EscalationLevel = level.Level
		alert.UpdatedAt = e.now().UTC()
		if err := e.state.alerts.Update(ctx, alert); err != nil {
			e.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to record escalation level")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"level":    level.Level,
		"severity": level.Severity,
	}).Info("Alert escalated")
}

// cleanupCycle purges resolved alerts and notification history past their
// retention windows. It runs on the cleanup interval.
func (e *Engine) cleanupCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := e.now().UTC()
	if e.resolvedRetention > 0 {
		cutoff := now.Add(-e.resolvedRetention)
		if count, err := e.state.alerts.DeleteTriggeredBefore(ctx, cutoff); err != nil {
			e.logger.WithError(err).Warn("Alert retention purge failed")
		} else if count > 0 {
			e.logger.WithField("count", count).Info("Resolved alerts purged")
		}
	}
	if e.historyRetention > 0 {
		cutoff := now.Add(-e.historyRetention)
		if count, err := e.dispatcher.notifications.DeleteBefore(ctx, cutoff); err != nil {
			e.logger.WithError(err).Warn("Notification history purge failed")
		} else if count > 0 {
			e.logger.WithField("count", count).Info("Notification history purged")
		}
		if _, err := e.escalations.DeleteBefore(ctx, cutoff); err != nil {
			e.logger.WithError(err).Warn("Escalation history purge failed")
		}
	}

	e.sweepEscalationMarkers(ctx)
}

// sweepEscalationMarkers drops escalation idempotency markers whose alert is
// no longer active. The resolve handler clears markers on the happy path;
// this sweep catches markers orphaned by a crash before their TTL runs out.
func (e *Engine) sweepEscalationMarkers(ctx context.Context) {
	keys, err := e.cache.Keys(ctx, "escalation:*")
	if err != nil {
		e.logger.WithError(err).Debug("Escalation marker scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}

	active, err := e.state.alerts.GetActive(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to list active alerts for marker sweep")
		return
	}
	activeIDs := make(map[string]bool, len(active))
	for _, alert := range active {
		activeIDs[alert.ID] = true
	}

	var stale []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, "escalation:")
		alertID := rest
		if idx := strings.LastIndexByte(rest, ':'); idx >= 0 {
			alertID = rest[:idx]
		}
		if !activeIDs[alertID] {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := e.cache.Delete(ctx, stale...); err != nil {
		e.logger.WithError(err).Debug("Failed to drop stale escalation markers")
	} else {
		e.logger.WithField("count", len(stale)).Debug("Stale escalation markers dropped")
	}
}
