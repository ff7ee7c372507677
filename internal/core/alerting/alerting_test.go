package alerting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/core/metrics"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/internal/database/sqlite"
)

const testSchema = `
CREATE TABLE alert_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	severity TEXT NOT NULL DEFAULT 'warning',
	metric TEXT NOT NULL,
	condition TEXT NOT NULL,
	threshold TEXT NOT NULL,
	window_seconds INTEGER NOT NULL DEFAULT 0,
	interval_seconds INTEGER NOT NULL,
	silence_seconds INTEGER NOT NULL DEFAULT 3600,
	dependencies TEXT,
	notifications TEXT,
	tags TEXT,
	created_by TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE alerts (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	rule_name TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'active',
	severity TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	threshold TEXT NOT NULL DEFAULT '',
	labels TEXT,
	annotations TEXT,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	notification_count INTEGER NOT NULL DEFAULT 0,
	triggered_at TIMESTAMP NOT NULL,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT,
	silenced_until TIMESTAMP,
	resolved_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE alert_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	actor TEXT,
	note TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE notification_templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	subject TEXT,
	body TEXT NOT NULL,
	variables TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE notifications (
	id TEXT PRIMARY KEY,
	alert_id TEXT NOT NULL,
	config_id TEXT NOT NULL DEFAULT '',
	channel_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	sent_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE alert_suppressions (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_by TEXT,
	active BOOLEAN NOT NULL DEFAULT 1,
	suppressed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMP
);
CREATE TABLE escalation_policies (
	rule_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	levels TEXT,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE escalations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	level INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// testEnv wires the engine components against an in-memory store and cache.
type testEnv struct {
	db        *sqlx.DB
	rules     repositories.RuleRepository
	alerts    repositories.AlertRepository
	templates repositories.TemplateRepository
	history   repositories.NotificationRepository
	cache     *cache.MemoryCache
	bus       *EventBus
	state     *StateManager
	evaluator *Evaluator
	gauge     *metrics.GaugeProvider
	logger    *logrus.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	memCache := cache.NewMemoryCache()
	bus := NewEventBus(logger)

	rules := sqlite.NewRuleRepository(db)
	alerts := sqlite.NewAlertRepository(db)
	suppressions := sqlite.NewSuppressionRepository(db)

	state := NewStateManager(alerts, rules, suppressions, memCache, bus, logger, time.Hour, time.Hour)

	gauge := metrics.NewGaugeProvider()
	registry := metrics.NewRegistry(logger)
	registry.SetFallback(gauge)

	evaluator := NewEvaluator(rules, state, registry, logger, time.Millisecond, 5*time.Second)

	return &testEnv{
		db:        db,
		rules:     rules,
		alerts:    alerts,
		templates: sqlite.NewTemplateRepository(db),
		history:   sqlite.NewNotificationRepository(db),
		cache:     memCache,
		bus:       bus,
		state:     state,
		evaluator: evaluator,
		gauge:     gauge,
		logger:    logger,
	}
}

func (env *testEnv) createRule(t *testing.T, mutate func(*models.AlertRule)) *models.AlertRule {
	t.Helper()
	rule := &models.AlertRule{
		ID:              uuid.New().String(),
		Name:            "rule-" + uuid.New().String()[:8],
		Enabled:         true,
		Severity:        SeverityWarning,
		Metric:          "warehouse.temperature",
		Condition:       ConditionGreaterThan,
		Threshold:       "30",
		IntervalSeconds: 60,
		SilenceSeconds:  3600,
	}
	if mutate != nil {
		mutate(rule)
	}
	require.NoError(t, env.rules.Create(context.Background(), rule))
	return rule
}

func (env *testEnv) trigger(t *testing.T, rule *models.AlertRule) *models.Alert {
	t.Helper()
	alert, created, err := env.state.TriggerAlert(context.Background(), rule, "42", "test alert")
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func mustJSON(t *testing.T, v interface{}) types.JSONText {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
