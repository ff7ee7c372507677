package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

func TestEvaluateRuleTriggersOnMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.createRule(t, func(r *models.AlertRule) {
		r.Metric = "warehouse.temperature"
		r.Condition = ConditionGreaterThan
		r.Threshold = "30"
	})
	env.gauge.Set("warehouse.temperature", "35.2")

	require.NoError(t, env.evaluator.EvaluateRule(ctx, rule.ID))

	alert, err := env.alerts.GetActiveByRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "35.2", alert.Value)
	assert.Contains(t, alert.Message, rule.Name)
}

func TestEvaluateRuleResolvesWhenConditionClears(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.createRule(t, nil)

	env.gauge.Set(rule.Metric, "35")
	require.NoError(t, env.evaluator.EvaluateRule(ctx, rule.ID))
	alert, err := env.alerts.GetActiveByRule(ctx, rule.ID)
	require.NoError(t, err)

	env.gauge.Set(rule.Metric, "25")
	require.NoError(t, env.evaluator.EvaluateRule(ctx, rule.ID))

	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, stored.State)
}

func TestEvaluateRuleMetricErrorIsNoDecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.createRule(t, func(r *models.AlertRule) {
		r.Metric = "warehouse.unknown"
	})
	seeded := env.createRule(t, nil)
	env.gauge.Set(seeded.Metric, "35")
	require.NoError(t, env.evaluator.EvaluateRule(ctx, seeded.ID))
	existing, err := env.alerts.GetActiveByRule(ctx, seeded.ID)
	require.NoError(t, err)

	err = env.evaluator.EvaluateRule(ctx, rule.ID)
	require.Error(t, err)

	// The failure creates nothing and resolves nothing.
	_, err = env.alerts.GetActiveByRule(ctx, rule.ID)
	assert.True(t, apperrors.IsNotFound(err))
	stored, err := env.alerts.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, stored.State)
}

func TestDependencyGateIgnoresOwnCondition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	parent := env.createRule(t, nil)
	child := env.createRule(t, func(r *models.AlertRule) {
		// The child's own condition would never match; the gate alone
		// decides.
		r.Metric = "warehouse.never_set"
		r.Dependencies = mustJSON(t, []string{parent.ID})
	})

	// Gate closed: no parent alert.
	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	_, err := env.alerts.GetActiveByRule(ctx, child.ID)
	assert.True(t, apperrors.IsNotFound(err))

	// Gate open: parent has an active alert.
	env.trigger(t, parent)
	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	childAlert, err := env.alerts.GetActiveByRule(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, childAlert.State)
}

func TestDependencyGateResolvesWhenDependenciesClear(t *testing.T) {
	env := newTestEnv(t)
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

	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	stored, err := env.alerts.GetByID(ctx, childAlert.ID)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, stored.State)
}

func TestDependencyGateOrSemantics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	parentA := env.createRule(t, nil)
	parentB := env.createRule(t, nil)
	child := env.createRule(t, func(r *models.AlertRule) {
		r.Dependencies = mustJSON(t, []string{parentA.ID, parentB.ID})
	})

	// One of two dependencies active is enough.
	env.trigger(t, parentB)
	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	_, err := env.alerts.GetActiveByRule(ctx, child.ID)
	require.NoError(t, err)
}

func TestDanglingDependencyNeverSatisfiesGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.createRule(t, func(r *models.AlertRule) {
		r.Dependencies = mustJSON(t, []string{"no-such-rule"})
	})

	require.NoError(t, env.evaluator.EvaluateRule(ctx, child.ID))
	_, err := env.alerts.GetActiveByRule(ctx, child.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScheduleRuleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	rule := env.createRule(t, nil)

	env.evaluator.ScheduleRule(rule)
	env.evaluator.ScheduleRule(rule)
	assert.Equal(t, 1, env.evaluator.ScheduledCount())

	env.evaluator.UnscheduleRule(rule.ID)
	assert.Equal(t, 0, env.evaluator.ScheduledCount())
	env.evaluator.UnscheduleRule(rule.ID)
}

func TestScheduleRuleDisabledUnschedules(t *testing.T) {
	env := newTestEnv(t)
	rule := env.createRule(t, nil)

	env.evaluator.ScheduleRule(rule)
	require.Equal(t, 1, env.evaluator.ScheduledCount())

	rule.Enabled = false
	env.evaluator.ScheduleRule(rule)
	assert.Equal(t, 0, env.evaluator.ScheduledCount())
}

func TestReloadRulesReplacesSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createRule(t, nil)
	env.createRule(t, nil)
	disabled := env.createRule(t, func(r *models.AlertRule) { r.Enabled = false })

	count, err := env.evaluator.ReloadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, env.evaluator.ScheduledCount())
	_ = disabled
}

func TestScheduleHeapOrdersByNextFire(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.evaluator.SetClock(func() time.Time { return base })

	slow := env.createRule(t, func(r *models.AlertRule) { r.IntervalSeconds = 300 })
	fast := env.createRule(t, func(r *models.AlertRule) { r.IntervalSeconds = 30 })

	env.evaluator.ScheduleRule(slow)
	env.evaluator.ScheduleRule(fast)

	env.evaluator.mu.Lock()
	head := env.evaluator.schedule[0]
	env.evaluator.mu.Unlock()
	assert.Equal(t, fast.ID, head.ruleID)
	assert.Equal(t, base.Add(30*time.Second), head.nextFire)
}

func TestTestRuleHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.createRule(t, nil)
	env.gauge.Set(rule.Metric, "35")

	result := env.evaluator.TestRule(ctx, rule)
	assert.True(t, result.Matched)
	assert.True(t, result.WouldTrigger)
	assert.Equal(t, "35", result.Value)

	_, err := env.alerts.GetActiveByRule(ctx, rule.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTestRuleReportsDependencyGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	parent := env.createRule(t, nil)
	child := env.createRule(t, func(r *models.AlertRule) {
		r.Dependencies = mustJSON(t, []string{parent.ID})
	})

	result := env.evaluator.TestRule(ctx, child)
	require.NotNil(t, result.GateOpen)
	assert.False(t, *result.GateOpen)
	assert.False(t, result.WouldTrigger)

	env.trigger(t, parent)
	result = env.evaluator.TestRule(ctx, child)
	require.NotNil(t, result.GateOpen)
	assert.True(t, *result.GateOpen)
	assert.True(t, result.WouldTrigger)
}

func TestEvaluatorStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createRule(t, nil)

	require.NoError(t, env.evaluator.Start(ctx))
	require.NoError(t, env.evaluator.Start(ctx))
	env.evaluator.Stop()
	env.evaluator.Stop()
	assert.Equal(t, 0, env.evaluator.ScheduledCount())
}
