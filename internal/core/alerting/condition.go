package alerting

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// conditionMatcher decides whether an observed metric value satisfies a rule
// condition. Regex patterns are compiled once and reused across evaluations.
type conditionMatcher struct {
	logger *logrus.Logger

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
	broken  map[string]bool
}

func newConditionMatcher(logger *logrus.Logger) *conditionMatcher {
	return &conditionMatcher{
		logger:  logger,
		regexes: make(map[string]*regexp.Regexp),
		broken:  make(map[string]bool),
	}
}

// Match reports whether value satisfies (condition, threshold). Unknown
// operators and invalid regex patterns never match; both are logged once
// per pattern rather than per evaluation.
func (m *conditionMatcher) Match(condition, value, threshold string) bool {
	switch condition {
	case ConditionGreaterThan, ConditionLessThan:
		v, errV := strconv.ParseFloat(strings.TrimSpace(value), 64)
		t, errT := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
		if errV != nil || errT != nil {
			m.logger.WithFields(logrus.Fields{
				"condition": condition,
				"value":     value,
				"threshold": threshold,
			}).Warn("Non-numeric operand for numeric condition")
			return false
		}
		if condition == ConditionGreaterThan {
			return v > t
		}
		return v < t

	case ConditionEquals, ConditionNotEquals:
		equal := compareEqual(value, threshold)
		if condition == ConditionEquals {
			return equal
		}
		return !equal

	case ConditionContains:
		return strings.Contains(value, threshold)

	case ConditionRegex:
		re := m.compile(threshold)
		if re == nil {
			return false
		}
		return re.MatchString(value)

	default:
		m.logger.WithField("condition", condition).Warn("Unknown condition operator")
		return false
	}
}

// compareEqual compares numerically when both operands parse as floats, so
// "1.50" equals "1.5". Otherwise it falls back to exact string comparison.
func compareEqual(value, threshold string) bool {
	v, errV := strconv.ParseFloat(strings.TrimSpace(value), 64)
	t, errT := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
	if errV == nil && errT == nil {
		return v == t
	}
	return value == threshold
}

func (m *conditionMatcher) compile(pattern string) *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.regexes[pattern]; ok {
		return re
	}
	if m.broken[pattern] {
		return nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		m.broken[pattern] = true
		m.logger.WithFields(logrus.Fields{
			"pattern": pattern,
			"error":   err.Error(),
		}).Warn("Invalid regex pattern in rule condition")
		return nil
	}
	m.regexes[pattern] = re
	return re
}
