package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

const repoTestSchema = `
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
`

func setupRepoDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(repoTestSchema)
	require.NoError(t, err)

	return db
}

func sampleRule(name string) *models.AlertRule {
	return &models.AlertRule{
		Name:            name,
		Enabled:         true,
		Severity:        "warning",
		Metric:          "warehouse.temperature",
		Condition:       "gt",
		Threshold:       "30",
		IntervalSeconds: 60,
		SilenceSeconds:  3600,
	}
}

func TestRepositoriesScanNullJSONColumns(t *testing.T) {
	db := setupRepoDB(t)
	rules := NewRuleRepository(db)
	alerts := NewAlertRepository(db)
	ctx := context.Background()

	// Rules and alerts created without optional JSON payloads store NULL
	// in those columns; reads must come back clean.
	rule := sampleRule("no extras")
	require.NoError(t, rules.Create(ctx, rule))

	got, err := rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DependencyIDs())
	assert.Nil(t, got.TagList())
	configs, err := got.NotificationConfigs()
	require.NoError(t, err)
	assert.Nil(t, configs)

	alert := insertAlert(t, alerts, rule.ID, "active", "warning", time.Now().UTC())
	stored, err := alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LabelMap())
	assert.Nil(t, stored.AnnotationMap())
}

func TestRuleRepositoryCRUD(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	rule := sampleRule("temp high")
	require.NoError(t, repo.Create(ctx, rule))
	require.NotEmpty(t, rule.ID)

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "temp high", got.Name)
	assert.Equal(t, "gt", got.Condition)
	assert.True(t, got.Enabled)

	byName, err := repo.GetByName(ctx, "temp high")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, byName.ID)

	got.Threshold = "35"
	require.NoError(t, repo.Update(ctx, got))
	updated, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "35", updated.Threshold)

	require.NoError(t, repo.SetEnabled(ctx, rule.ID, false))
	enabled, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, rule.ID))
	_, err = repo.GetByID(ctx, rule.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRuleRepositoryNotFound(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	assert.True(t, apperrors.IsNotFound(repo.Delete(ctx, "missing")))
	assert.True(t, apperrors.IsNotFound(repo.SetEnabled(ctx, "missing", true)))
	assert.True(t, apperrors.IsNotFound(repo.Update(ctx, &models.AlertRule{ID: "missing"})))
}

func TestRuleRepositoryUpsertIsIdempotent(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	rule := sampleRule("upserted")
	rule.ID = "fixed-id"
	require.NoError(t, repo.Upsert(ctx, rule))

	rule.Threshold = "50"
	require.NoError(t, repo.Upsert(ctx, rule))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "50", all[0].Threshold)
}

func insertAlert(t *testing.T, repo repositories.AlertRepository, ruleID, state, severity string, triggeredAt time.Time) *models.Alert {
	t.Helper()

	alert := &models.Alert{
		RuleID:      ruleID,
		RuleName:    ruleID,
		State:       state,
		Severity:    severity,
		TriggeredAt: triggeredAt,
	}
	require.NoError(t, repo.Create(context.Background(), alert))
	return alert
}

func TestAlertRepositoryQueryFilters(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertAlert(t, repo, "rule-a", "active", "warning", base)
	insertAlert(t, repo, "rule-a", "resolved", "warning", base.Add(time.Hour))
	insertAlert(t, repo, "rule-b", "active", "critical", base.Add(2*time.Hour))

	byRule, err := repo.Query(ctx, repositories.AlertFilter{RuleIDs: []string{"rule-a"}})
	require.NoError(t, err)
	assert.Len(t, byRule, 2)

	byState, err := repo.Query(ctx, repositories.AlertFilter{States: []string{"resolved"}})
	require.NoError(t, err)
	assert.Len(t, byState, 1)

	bySeverity, err := repo.Query(ctx, repositories.AlertFilter{Severities: []string{"critical"}})
	require.NoError(t, err)
	assert.Len(t, bySeverity, 1)
	assert.Equal(t, "rule-b", bySeverity[0].RuleID)

	since := base.Add(30 * time.Minute)
	recent, err := repo.Query(ctx, repositories.AlertFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	// Descending by default, ascending on request.
	all, err := repo.Query(ctx, repositories.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rule-b", all[0].RuleID)

	asc, err := repo.Query(ctx, repositories.AlertFilter{Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, "rule-a", asc[0].RuleID)

	paged, err := repo.Query(ctx, repositories.AlertFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "rule-a", paged[0].RuleID)
}

func TestAlertRepositoryActiveLookups(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	active := insertAlert(t, repo, "rule-a", "active", "warning", now)
	insertAlert(t, repo, "rule-a", "resolved", "warning", now.Add(-time.Hour))

	got, err := repo.GetActiveByRule(ctx, "rule-a")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = repo.GetActiveByRule(ctx, "rule-b")
	assert.True(t, apperrors.IsNotFound(err))

	allActive, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Len(t, allActive, 1)
}

func TestAlertRepositoryTransitionsAndCleanup(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	alert := insertAlert(t, repo, "rule-a", "resolved", "warning", now.Add(-48*time.Hour))
	insertAlert(t, repo, "rule-a", "active", "warning", now)

	require.NoError(t, repo.RecordTransition(ctx, &models.AlertTransition{
		AlertID:   alert.ID,
		FromState: "active",
		ToState:   "resolved",
	}))

	transitions, err := repo.GetTransitions(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "resolved", transitions[0].ToState)

	deleted, err := repo.DeleteTriggeredBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.Query(ctx, repositories.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
