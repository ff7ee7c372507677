package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/internal/database/sqlite"
)

type engineEnv struct {
	*testEnv
	engine      *Engine
	escalations repositories.EscalationRepository
	chat        *fakeProvider
	dispatcher  *Dispatcher
}

func newEngineEnv(t *testing.T) *engineEnv {
	env := newTestEnv(t)
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)
	escalations := sqlite.NewEscalationRepository(env.db)

	engine := NewEngine(
		env.state, env.evaluator, d,
		env.rules, escalations, env.cache, env.bus, env.logger,
		config.MonitoringConfig{
			MonitorInterval:    "30s",
			EscalationInterval: "60s",
			CleanupInterval:    "1h",
			EscalationAfter:    "30m",
			MaxEscalationLevel: 3,
		},
		24*time.Hour, 24*time.Hour,
	)
	return &engineEnv{testEnv: env, engine: engine, escalations: escalations, chat: chat, dispatcher: d}
}

func (env *engineEnv) setPolicy(t *testing.T, ruleID string, levels []models.EscalationLevel) {
	t.Helper()
	require.NoError(t, env.escalations.SetPolicy(context.Background(), &models.EscalationPolicy{
		RuleID:  ruleID,
		Enabled: true,
		Levels:  mustJSON(t, levels),
	}))
}

func TestEngineStartStopIdempotent(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	assert.Equal(t, EngineStopped, env.engine.Status())
	require.NoError(t, env.engine.Start(ctx))
	assert.Equal(t, EngineRunning, env.engine.Status())
	require.NoError(t, env.engine.Start(ctx))

	env.engine.Stop()
	assert.Equal(t, EngineStopped, env.engine.Status())
	env.engine.Stop()
}

func TestTriggeredAlertDispatchesImmediately(t *testing.T) {
	env := newEngineEnv(t)

	rule := env.createRule(t, func(r *models.AlertRule) {
		r.Notifications = mustJSON(t, []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")})
	})

	env.dispatcher.Start()
	defer env.dispatcher.Stop()

	env.trigger(t, rule)

	require.Eventually(t, func() bool { return env.chat.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestSuppressionWithholdsNotifications(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	rule := env.createRule(t, func(r *models.AlertRule) {
		r.Notifications = mustJSON(t, []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")})
	})
	_, err := env.state.CreateSuppression(ctx, rule.ID, "maintenance", "ops", time.Hour)
	require.NoError(t, err)

	env.dispatcher.Start()
	defer env.dispatcher.Stop()

	alert := env.trigger(t, rule)
	assert.Equal(t, StateActive, alert.State)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.chat.sentCount())
}

func TestEscalationFiresOncePerLevel(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	env.state.SetClock(func() time.Time { return clock })
	env.engine.now = func() time.Time { return clock }

	rule := env.createRule(t, nil)
	env.setPolicy(t, rule.ID, []models.EscalationLevel{
		{Level: 1, Severity: SeverityError, DelaySeconds: 600, Notifications: []models.NotificationConfig{testConfig(ChannelChat, "esc-1")}},
		{Level: 2, Severity: SeverityCritical, DelaySeconds: 1800, Notifications: []models.NotificationConfig{testConfig(ChannelChat, "esc-2")}},
	})

	alert := env.trigger(t, rule)

	env.dispatcher.Start()
	defer env.dispatcher.Stop()

	// Before any delay has elapsed nothing escalates.
	env.engine.escalationCycle()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.chat.sentCount())

	// Level one fires exactly once even across repeated cycles.
	clock = base.Add(11 * time.Minute)
	env.engine.escalationCycle()
	env.engine.escalationCycle()
	require.Eventually(t, func() bool { return env.chat.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	msg := env.chat.lastSent()
	assert.Contains(t, msg.Body, escalationPrefix)
	assert.Equal(t, SeverityError, msg.Alert.Severity)

	// Level two fires once its own delay elapses.
	clock = base.Add(31 * time.Minute)
	env.engine.escalationCycle()
	require.Eventually(t, func() bool { return env.chat.sentCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	records, err := env.escalations.GetByAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Equal(t, StateActive, stored.State)
}

func TestEscalationSkippedWithoutPolicy(t *testing.T) {
	env := newEngineEnv(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.state.SetClock(func() time.Time { return base })
	env.engine.now = func() time.Time { return base.Add(2 * time.Hour) }

	rule := env.createRule(t, nil)
	env.trigger(t, rule)

	env.dispatcher.Start()
	defer env.dispatcher.Stop()

	env.engine.escalationCycle()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.chat.sentCount())
}

func TestResolveClearsEscalationMarkers(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	env.state.SetClock(func() time.Time { return clock })
	env.engine.now = func() time.Time { return clock }

	rule := env.createRule(t, nil)
	env.setPolicy(t, rule.ID, []models.EscalationLevel{
		{Level: 1, Severity: SeverityError, DelaySeconds: 60, Notifications: []models.NotificationConfig{testConfig(ChannelChat, "esc-1")}},
	})
	alert := env.trigger(t, rule)

	env.dispatcher.Start()
	defer env.dispatcher.Stop()

	clock = base.Add(2 * time.Minute)
	env.engine.escalationCycle()
	require.Eventually(t, func() bool { return env.chat.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, err := env.state.Transition(ctx, alert.ID, StateResolved, "ops", "")
	require.NoError(t, err)

	keys, err := env.cache.Keys(ctx, "escalation:"+alert.ID+":*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMonitoringCycleResolvesOrphanedDependents(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	parent := env.createRule(t, nil)
	child := env.createRule(t, func(r *models.AlertRule) {
		r.Dependencies = mustJSON(t, []string{parent.ID})
	})

	parentAlert := env.trigger(t, parent)
	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	childAlert, err := env.alerts.GetActiveByRule(ctx, child.ID)
	require.NoError(t, err)

	_, err = env.state.Transition(ctx, parentAlert.ID, StateResolved, "ops", "")
	require.NoError(t, err)

	env.engine.monitoringCycle()

	stored, err := env.alerts.GetByID(ctx, childAlert.ID)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, stored.State)
}

func TestMonitoringCycleReactivatesExpiredSilence(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	env.state.SetClock(func() time.Time { return clock })
	env.engine.now = func() time.Time { return clock }

	rule := env.createRule(t, func(r *models.AlertRule) { r.SilenceSeconds = 600 })
	alert := env.trigger(t, rule)
	_, err := env.state.Transition(ctx, alert.ID, StateSilenced, "ops", "noisy sensor")
	require.NoError(t, err)

	// Inside the window the alert stays silenced.
	clock = base.Add(5 * time.Minute)
	env.engine.monitoringCycle()
	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSilenced, stored.State)

	clock = base.Add(11 * time.Minute)
	env.engine.monitoringCycle()
	stored, err = env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, stored.State)
	assert.False(t, stored.SilencedUntil.Valid)

	transitions, err := env.state.GetTransitions(ctx, alert.ID)
	require.NoError(t, err)
	last := transitions[len(transitions)-1]
	assert.Equal(t, StateActive, last.ToState)
	assert.Equal(t, "system", last.Actor.String)
}

func TestCleanupCycleDropsStaleEscalationMarkers(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	env.state.SetClock(func() time.Time { return clock })
	env.engine.now = func() time.Time { return clock }

	rule := env.createRule(t, nil)
	resolved := env.trigger(t, rule)
	_, err := env.state.Transition(ctx, resolved.ID, StateResolved, "ops", "")
	require.NoError(t, err)

	active := env.trigger(t, rule)

	// A marker orphaned by a crash survives the resolve handler.
	require.NoError(t, env.cache.Set(ctx, escalationMarkKey(resolved.ID, 1), "1", escalationMarkTTL))
	require.NoError(t, env.cache.Set(ctx, escalationMarkKey(active.ID, 1), "1", escalationMarkTTL))

	env.engine.cleanupCycle()

	keys, err := env.cache.Keys(ctx, "escalation:*")
	require.NoError(t, err)
	assert.Equal(t, []string{escalationMarkKey(active.ID, 1)}, keys)
}

func TestCleanupCyclePurgesOldData(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	env.state.SetClock(func() time.Time { return clock })
	env.engine.now = func() time.Time { return clock }

	rule := env.createRule(t, nil)
	old := env.trigger(t, rule)
	_, err := env.state.Transition(ctx, old.ID, StateResolved, "ops", "")
	require.NoError(t, err)

	clock = base.Add(48 * time.Hour)
	fresh := env.trigger(t, rule)

	env.engine.cleanupCycle()

	_, err = env.alerts.GetByID(ctx, old.ID)
	assert.Error(t, err)
	stored, err := env.alerts.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, stored.State)
}
