package alerting

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{alert\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifBlockRe     = regexp.MustCompile(`(?s)\{\{#if alert\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}(.*?)\{\{/if\}\}`)
)

// alertFields flattens an alert into the names templates refer to.
func alertFields(alert *models.Alert) map[string]string {
	fields := map[string]string{
		"id":                 alert.ID,
		"rule_id":            alert.RuleID,
		"rule_name":          alert.RuleName,
		"state":              alert.State,
		"severity":           alert.Severity,
		"message":            alert.Message,
		"value":              alert.Value,
		"threshold":          alert.Threshold,
		"escalation_level":   strconv.Itoa(alert.EscalationLevel),
		"notification_count": strconv.Itoa(alert.NotificationCount),
		"triggered_at":       alert.TriggeredAt.Format(time.RFC3339),
	}
	if alert.AcknowledgedBy.Valid {
		fields["acknowledged_by"] = alert.AcknowledgedBy.String
	}
	if alert.AcknowledgedAt.Valid {
		fields["acknowledged_at"] = alert.AcknowledgedAt.Time.Format(time.RFC3339)
	}
	if alert.ResolvedAt.Valid {
		fields["resolved_at"] = alert.ResolvedAt.Time.Format(time.RFC3339)
	}
	for k, v := range alert.LabelMap() {
		fields["label_"+k] = v
	}
	return fields
}

// RenderTemplate substitutes {{alert.<field>}} placeholders with alert
// values and resolves {{#if alert.<field>}}...{{/if}} blocks by field
// truthiness. Placeholders naming fields the alert does not carry are left
// in the output untouched.
func RenderTemplate(body string, alert *models.Alert) string {
	fields := alertFields(alert)

	rendered := ifBlockRe.ReplaceAllStringFunc(body, func(block string) string {
		m := ifBlockRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		if truthy(fields[m[1]]) {
			return m[2]
		}
		return ""
	})

	return placeholderRe.ReplaceAllStringFunc(rendered, func(ph string) string {
		m := placeholderRe.FindStringSubmatch(ph)
		if m == nil {
			return ph
		}
		if value, ok := fields[m[1]]; ok {
			return value
		}
		return ph
	})
}

// truthy mirrors conditional template semantics: empty, "0" and "false"
// are false, everything else is true.
func truthy(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "0", "false":
		return false
	}
	return true
}

// DefaultMessageBody is used when a notification config references no
// template.
const DefaultMessageBody = "[{{alert.severity}}] {{alert.rule_name}}: {{alert.message}}"
