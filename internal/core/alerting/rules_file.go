package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
)

// ruleFile is the on-disk rule seed format.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID            string                      `yaml:"id"`
	Name          string                      `yaml:"name"`
	Description   string                      `yaml:"description"`
	Enabled       *bool                       `yaml:"enabled"`
	Severity      string                      `yaml:"severity"`
	Metric        string                      `yaml:"metric"`
	Condition     string                      `yaml:"condition"`
	Threshold     string                      `yaml:"threshold"`
	Interval      string                      `yaml:"interval"`
	Silence       string                      `yaml:"silence"`
	Dependencies  []string                    `yaml:"dependencies"`
	Tags          []string                    `yaml:"tags"`
	Notifications []models.NotificationConfig `yaml:"notifications"`
}

// LoadRulesFile seeds alert rules from a YAML file. Rules are upserted by
// id so repeated startups with the same file are idempotent. Returns the
// number of rules loaded.
func LoadRulesFile(ctx context.Context, path string, rules repositories.RuleRepository, logger *logrus.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse rules file: %w", err)
	}

	loaded := 0
	for i, spec := range file.Rules {
		rule, err := spec.toModel()
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"index": i,
				"name":  spec.Name,
			}).Warn("Skipping invalid rule in rules file")
			continue
		}
		if err := rules.Upsert(ctx, rule); err != nil {
			return loaded, fmt.Errorf("failed to store rule %q: %w", rule.Name, err)
		}
		loaded++
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"rules": loaded,
	}).Info("Alert rules seeded from file")
	return loaded, nil
}

func (s ruleSpec) toModel() (*models.AlertRule, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("rule has no name")
	}
	if len(s.Dependencies) == 0 {
		if s.Metric == "" {
			return nil, fmt.Errorf("rule %q has no metric", s.Name)
		}
		if !ValidCondition(s.Condition) {
			return nil, fmt.Errorf("rule %q has unsupported condition %q", s.Name, s.Condition)
		}
	}
	severity := s.Severity
	if severity == "" {
		severity = SeverityWarning
	}
	if !ValidSeverity(severity) {
		return nil, fmt.Errorf("rule %q has unknown severity %q", s.Name, s.Severity)
	}

	now := time.Now().UTC()
	rule := &models.AlertRule{
		ID:        s.ID,
		Name:      s.Name,
		Enabled:   s.Enabled == nil || *s.Enabled,
		Severity:  severity,
		Metric:    s.Metric,
		Condition: s.Condition,
		Threshold: s.Threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if s.Description != "" {
		rule.Description.String = s.Description
		rule.Description.Valid = true
	}
	if s.Interval != "" {
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return nil, fmt.Errorf("rule %q has invalid interval: %w", s.Name, err)
		}
		rule.IntervalSeconds = int(d.Seconds())
	}
	if s.Silence != "" {
		d, err := time.ParseDuration(s.Silence)
		if err != nil {
			return nil, fmt.Errorf("rule %q has invalid silence: %w", s.Name, err)
		}
		rule.SilenceSeconds = int(d.Seconds())
	}
	if len(s.Dependencies) > 0 {
		raw, err := json.Marshal(s.Dependencies)
		if err != nil {
			return nil, err
		}
		rule.Dependencies = raw
	}
	if len(s.Tags) > 0 {
		raw, err := json.Marshal(s.Tags)
		if err != nil {
			return nil, err
		}
		rule.Tags = raw
	}
	if len(s.Notifications) > 0 {
		raw, err := json.Marshal(s.Notifications)
		if err != nil {
			return nil, err
		}
		rule.Notifications = raw
	}
	return rule, nil
}
