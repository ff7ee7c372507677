package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// fakeProvider records sends and fails a configurable number of times.
type fakeProvider struct {
	channel string

	mu        sync.Mutex
	sent      []*Message
	tested    int
	failTimes int
}

func (p *fakeProvider) Type() string { return p.channel }

func (p *fakeProvider) Send(ctx context.Context, channelConfig map[string]string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTimes > 0 {
		p.failTimes--
		return apperrors.NewTransient("send failed", nil)
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakeProvider) Test(ctx context.Context, channelConfig map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tested++
	return nil
}

func (p *fakeProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakeProvider) lastSent() *Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

func newTestDispatcher(env *testEnv, providers ...Provider) *Dispatcher {
	return NewDispatcher(
		env.templates, env.history, env.alerts, env.cache, env.bus, env.logger,
		providers,
		3, time.Millisecond,
		10, 100,
		16, 1,
	)
}

func testConfig(channel, id string) models.NotificationConfig {
	return models.NotificationConfig{ID: id, Channel: channel, Enabled: true}
}

func TestDispatchDeliversAndRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")}})

	assert.Equal(t, 1, chat.sentCount())
	records, err := env.history.GetByAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, NotificationSent, records[0].Status)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, "cfg-1", records[0].ConfigID)

	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.NotificationCount)
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat, failTimes: 2}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")}})

	records, err := env.history.GetByAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, NotificationSent, records[0].Status)
	assert.Equal(t, 3, records[0].Attempts)
}

func TestDispatchRecordsFailureAfterMaxRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat, failTimes: 5}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")}})

	records, err := env.history.GetByAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, NotificationFailed, records[0].Status)
	assert.Equal(t, 3, records[0].Attempts)
	assert.True(t, records[0].Error.Valid)

	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.NotificationCount)
}

func TestDispatchSeverityFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	cfg := testConfig(ChannelChat, "cfg-1")
	cfg.Conditions = &models.DeliveryConditions{Severities: []string{SeverityCritical}}
	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{cfg}})
	assert.Equal(t, 0, chat.sentCount())

	cfg.Conditions = &models.DeliveryConditions{Severities: []string{SeverityWarning, SeverityCritical}}
	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{cfg}})
	assert.Equal(t, 1, chat.sentCount())
}

func TestDispatchDisabledConfigSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	cfg := testConfig(ChannelChat, "cfg-1")
	cfg.Enabled = false
	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{cfg}})
	assert.Equal(t, 0, chat.sentCount())
}

func TestTimeWindowOpen(t *testing.T) {
	monday10 := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	monday23 := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
	tuesday03 := time.Date(2025, 6, 3, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		window models.TimeWindow
		now    time.Time
		want   bool
	}{
		{"inside window", models.TimeWindow{Start: "09:00", End: "17:00"}, monday10, true},
		{"inclusive start", models.TimeWindow{Start: "10:30", End: "17:00"}, monday10, true},
		{"inclusive end", models.TimeWindow{Start: "09:00", End: "10:30"}, monday10, true},
		{"outside window", models.TimeWindow{Start: "11:00", End: "17:00"}, monday10, false},
		{"midnight wrap late", models.TimeWindow{Start: "22:00", End: "06:00"}, monday23, true},
		{"midnight wrap early", models.TimeWindow{Start: "22:00", End: "06:00"}, tuesday03, true},
		{"midnight wrap closed", models.TimeWindow{Start: "22:00", End: "06:00"}, monday10, false},
		{"day match", models.TimeWindow{Start: "09:00", End: "17:00", Days: []string{"Monday"}}, monday10, true},
		{"day mismatch", models.TimeWindow{Start: "09:00", End: "17:00", Days: []string{"Sunday"}}, monday10, false},
		{"days only", models.TimeWindow{Days: []string{"monday"}}, monday10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeWindowOpen(tt.window, tt.now))
		})
	}
}

func TestDispatchRateLimitSkips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := NewDispatcher(
		env.templates, env.history, env.alerts, env.cache, env.bus, env.logger,
		[]Provider{chat},
		1, time.Millisecond,
		2, 100,
		16, 1,
	)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)
	cfg := testConfig(ChannelChat, "cfg-1")

	for i := 0; i < 4; i++ {
		d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{cfg}})
	}
	assert.Equal(t, 2, chat.sentCount())

	// Skipped sends leave no failure records in history.
	records, err := env.history.GetByAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRateLimitKeyedPerConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := NewDispatcher(
		env.templates, env.history, env.alerts, env.cache, env.bus, env.logger,
		[]Provider{chat},
		1, time.Millisecond,
		1, 100,
		16, 1,
	)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{testConfig(ChannelChat, "cfg-a")}})
	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{testConfig(ChannelChat, "cfg-b")}})
	assert.Equal(t, 2, chat.sentCount())
}

func TestRateCounterWindowStartsOnFirstBump(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rl := newRateLimiter(env.cache, env.logger, 2, 100)

	rl.record(ctx, "cfg-ttl")

	ttl, err := env.cache.TTL(ctx, minuteRateKey("cfg-ttl"))
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "counter must carry its window from the first bump")

	ttl, err = env.cache.TTL(ctx, hourlyRateKey("cfg-ttl"))
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDispatchUsesTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	tmpl := &models.NotificationTemplate{
		ID:          "tmpl-1",
		Name:        "chat default",
		ChannelType: ChannelChat,
		Body:        "{{alert.rule_name}} fired with value {{alert.value}}",
	}
	require.NoError(t, env.templates.Create(ctx, tmpl))

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	cfg := testConfig(ChannelChat, "cfg-1")
	cfg.TemplateID = "tmpl-1"
	d.dispatch(ctx, dispatchJob{alert: alert, configs: []models.NotificationConfig{cfg}})

	msg := chat.lastSent()
	require.NotNil(t, msg)
	assert.Equal(t, rule.Name+" fired with value 42", msg.Body)
}

func TestDispatchEscalationOverridesSeverityAndPrefixesMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, nil)
	alert := env.trigger(t, rule)

	d.dispatch(ctx, dispatchJob{
		alert:            alert,
		configs:          []models.NotificationConfig{testConfig(ChannelChat, "esc-1")},
		severityOverride: SeverityCritical,
		messagePrefix:    escalationPrefix,
	})

	msg := chat.lastSent()
	require.NotNil(t, msg)
	assert.Contains(t, msg.Body, escalationPrefix)
	assert.Equal(t, SeverityCritical, msg.Alert.Severity)

	// The stored alert keeps its original severity.
	stored, err := env.alerts.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, stored.Severity)
}

func TestTestChannelLeavesNoHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	require.NoError(t, d.TestChannel(ctx, testConfig(ChannelChat, "cfg-1")))
	assert.Equal(t, 1, chat.tested)

	records, err := env.history.GetRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTestChannelUnknownType(t *testing.T) {
	env := newTestEnv(t)
	d := newTestDispatcher(env)
	err := d.TestChannel(context.Background(), testConfig("pager", "cfg-1"))
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestDispatcherQueueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	chat := &fakeProvider{channel: ChannelChat}
	d := newTestDispatcher(env, chat)

	rule := env.createRule(t, func(r *models.AlertRule) {
		r.Notifications = mustJSON(t, []models.NotificationConfig{testConfig(ChannelChat, "cfg-1")})
	})
	alert := env.trigger(t, rule)

	d.Start()
	d.Start()
	d.Dispatch(alert, rule)
	d.Stop()
	d.Stop()

	assert.Equal(t, 1, chat.sentCount())
}
