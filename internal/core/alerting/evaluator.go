package alerting

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/core/metrics"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// scheduleEntry is one rule's position in the evaluation schedule.
type scheduleEntry struct {
	ruleID   string
	interval time.Duration
	nextFire time.Time
	index    int
}

// scheduleHeap orders entries by next fire time.
type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int            { return len(h) }
func (h scheduleHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h scheduleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *scheduleHeap) Push(x interface{}) { e := x.(*scheduleEntry); e.index = len(*h); *h = append(*h, e) }
func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// EvalResult reports a dry-run evaluation of a rule.
type EvalResult struct {
	RuleID       string `json:"rule_id"`
	Metric       string `json:"metric"`
	Value        string `json:"value,omitempty"`
	Matched      bool   `json:"matched"`
	WouldTrigger bool   `json:"would_trigger"`
	GateOpen     *bool  `json:"dependency_gate_open,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Evaluator schedules rule evaluations on a single goroutine fed by a
// min-heap of next fire times. Each due rule is evaluated on its own
// goroutine; a per-rule in-flight flag skips a cycle instead of overlapping
// a slow evaluation.
type Evaluator struct {
	rules   repositories.RuleRepository
	state   *StateManager
	metrics *metrics.Registry
	matcher *conditionMatcher
	logger  *logrus.Logger

	minInterval time.Duration
	evalTimeout time.Duration

	mu       sync.Mutex
	schedule scheduleHeap
	entries  map[string]*scheduleEntry
	inFlight map[string]bool
	running  bool
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewEvaluator creates an evaluator. minInterval is the floor applied to
// rule intervals; evalTimeout bounds one metric fetch plus decision.
func NewEvaluator(
	rules repositories.RuleRepository,
	state *StateManager,
	registry *metrics.Registry,
	logger *logrus.Logger,
	minInterval, evalTimeout time.Duration,
) *Evaluator {
	if minInterval <= 0 {
		minInterval = 10 * time.Second
	}
	if evalTimeout <= 0 {
		evalTimeout = 30 * time.Second
	}
	return &Evaluator{
		rules:       rules,
		state:       state,
		metrics:     registry,
		matcher:     newConditionMatcher(logger),
		logger:      logger,
		minInterval: minInterval,
		evalTimeout: evalTimeout,
		entries:     make(map[string]*scheduleEntry),
		inFlight:    make(map[string]bool),
		wake:        make(chan struct{}, 1),
		now:         time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Start loads enabled rules into the schedule and launches the scheduler
// goroutine. Calling Start on a running evaluator is a no-op.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	count, err := e.ReloadRules(ctx)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("failed to load rules: %w", err)
	}

	go e.run()
	e.logger.WithField("rules", count).Info("Evaluator started")
	return nil
}

// Stop halts the scheduler goroutine and clears the schedule. Evaluations
// already in flight finish on their own. Idempotent.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done

	e.mu.Lock()
	e.schedule = nil
	e.entries = make(map[string]*scheduleEntry)
	e.mu.Unlock()
	e.logger.Info("Evaluator stopped")
}

// ScheduleRule adds the rule to the schedule or moves its existing entry to
// the rule's current interval. Scheduling the same rule twice keeps a single
// entry. Disabled rules are unscheduled instead.
func (e *Evaluator) ScheduleRule(rule *models.AlertRule) {
	if !rule.Enabled {
		e.UnscheduleRule(rule.ID)
		return
	}

	interval := rule.Interval()
	if interval < e.minInterval {
		interval = e.minInterval
	}

	e.mu.Lock()
	if entry, ok := e.entries[rule.ID]; ok {
		entry.interval = interval
		entry.nextFire = e.now().Add(interval)
		heap.Fix(&e.schedule, entry.index)
	} else {
		entry = &scheduleEntry{
			ruleID:   rule.ID,
			interval: interval,
			nextFire: e.now().Add(interval),
		}
		e.entries[rule.ID] = entry
		heap.Push(&e.schedule, entry)
	}
	e.mu.Unlock()
	e.kick()
}

// UnscheduleRule removes the rule from the schedule if present.
func (e *Evaluator) UnscheduleRule(ruleID string) {
	e.mu.Lock()
	if entry, ok := e.entries[ruleID]; ok {
		heap.Remove(&e.schedule, entry.index)
		delete(e.entries, ruleID)
	}
	e.mu.Unlock()
	e.kick()
}

// ReloadRules replaces the whole schedule with the currently enabled rules
// and returns how many were scheduled.
func (e *Evaluator) ReloadRules(ctx context.Context) (int, error) {
	rules, err := e.rules.GetEnabled(ctx)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.schedule = nil
	e.entries = make(map[string]*scheduleEntry)
	now := e.now()
	for _, rule := range rules {
		interval := rule.Interval()
		if interval < e.minInterval {
			interval = e.minInterval
		}
		entry := &scheduleEntry{
			ruleID:   rule.ID,
			interval: interval,
			nextFire: now.Add(interval),
		}
		e.entries[rule.ID] = entry
		e.schedule = append(e.schedule, entry)
		entry.index = len(e.schedule) - 1
	}
	heap.Init(&e.schedule)
	e.mu.Unlock()
	e.kick()
	return len(rules), nil
}

// ScheduledCount returns the number of rules currently in the schedule.
func (e *Evaluator) ScheduledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Evaluator) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Evaluator) run() {
	defer close(e.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.mu.Lock()
		wait := time.Hour
		if e.schedule.Len() > 0 {
			wait = e.schedule[0].nextFire.Sub(e.now())
			if wait < 0 {
				wait = 0
			}
		}
		e.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-e.stop:
			return
		case <-e.wake:
		case <-timer.C:
			e.fireDue()
		}
	}
}

// fireDue pops every entry whose fire time has passed, reschedules it and
// launches its evaluation.
func (e *Evaluator) fireDue() {
	e.mu.Lock()
	now := e.now()
	var due []string
	for e.schedule.Len() > 0 && !e.schedule[0].nextFire.After(now) {
		entry := e.schedule[0]
		due = append(due, entry.ruleID)
		entry.nextFire = now.Add(entry.interval)
		heap.Fix(&e.schedule, 0)
	}
	e.mu.Unlock()

	for _, ruleID := range due {
		e.launch(ruleID)
	}
}

func (e *Evaluator) launch(ruleID string) {
	e.mu.Lock()
	if e.inFlight[ruleID] {
		e.mu.Unlock()
		e.logger.WithField("rule_id", ruleID).Debug("Evaluation still in flight, skipping cycle")
		return
	}
	e.inFlight[ruleID] = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.inFlight, ruleID)
			e.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.evalTimeout)
		defer cancel()
		if err := e.EvaluateRule(ctx, ruleID); err != nil {
			e.logger.WithError(err).WithField("rule_id", ruleID).Warn("Rule evaluation failed")
		}
	}()
}

// EvaluateRule runs one evaluation cycle for the rule: decide whether it
// should be firing and reconcile the stored alert state with that decision.
// A metric fetch failure yields no decision; existing alerts are untouched.
func (e *Evaluator) EvaluateRule(ctx context.Context, ruleID string) error {
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			e.UnscheduleRule(ruleID)
		}
		return err
	}
	if !rule.Enabled {
		e.UnscheduleRule(ruleID)
		return nil
	}

	firing, value, err := e.decide(ctx, rule)
	if err != nil {
		return err
	}

	if firing {
		message := fmt.Sprintf("%s: %s %s %s (observed %s)", rule.Name, rule.Metric, rule.Condition, rule.Threshold, value)
		_, _, err := e.state.TriggerAlert(ctx, rule, value, message)
		return err
	}
	return e.resolveIfActive(ctx, rule)
}

// decide computes whether the rule should be firing right now. Rules with
// dependencies are driven entirely by the dependency gate: they fire while
// at least one dependency rule has an active alert, and their own condition
// is not consulted.
func (e *Evaluator) decide(ctx context.Context, rule *models.AlertRule) (bool, string, error) {
	deps := rule.DependencyIDs()
	if len(deps) > 0 {
		open, err := e.dependencyGateOpen(ctx, deps)
		if err != nil {
			return false, "", err
		}
		return open, "", nil
	}

	value, err := e.metrics.Value(ctx, rule.Metric)
	if err != nil {
		return false, "", err
	}
	return e.matcher.Match(rule.Condition, value, rule.Threshold), value, nil
}

// dependencyGateOpen reports whether any dependency rule currently has an
// active alert. A dependency id that matches no rule never satisfies the
// gate.
func (e *Evaluator) dependencyGateOpen(ctx context.Context, deps []string) (bool, error) {
	for _, depID := range deps {
		_, err := e.state.alerts.GetActiveByRule(ctx, depID)
		if err == nil {
			return true, nil
		}
		if !apperrors.IsNotFound(err) {
			return false, err
		}
	}
	return false, nil
}

func (e *Evaluator) resolveIfActive(ctx context.Context, rule *models.AlertRule) error {
	alert, err := e.state.alerts.GetActiveByRule(ctx, rule.ID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	_, err = e.state.Transition(ctx, alert.ID, StateResolved, "system", "condition cleared")
	return err
}

// TestRule evaluates the rule once without creating, resolving or notifying
// anything. The result reports the observed value, whether the condition
// matched and whether the rule would fire given its dependency gate.
func (e *Evaluator) TestRule(ctx context.Context, rule *models.AlertRule) *EvalResult {
	result := &EvalResult{RuleID: rule.ID, Metric: rule.Metric}

	deps := rule.DependencyIDs()
	if len(deps) > 0 {
		open, err := e.dependencyGateOpen(ctx, deps)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.GateOpen = &open
		result.WouldTrigger = open
		return result
	}

	value, err := e.metrics.Value(ctx, rule.Metric)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Value = value
	result.Matched = e.matcher.Match(rule.Condition, value, rule.Threshold)
	result.WouldTrigger = result.Matched
	return result
}
