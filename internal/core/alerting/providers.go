package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	apperrors "github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string
	Body    string
	Alert   *models.Alert
}

// Provider delivers messages over one channel type. Test validates a
// channel config by performing a lightweight delivery.
type Provider interface {
	Type() string
	Send(ctx context.Context, channelConfig map[string]string, msg *Message) error
	Test(ctx context.Context, channelConfig map[string]string) error
}

// EmailProvider sends mail through the configured SMTP relay. The recipient
// list comes from the channel config ("to", comma separated); relay settings
// come from server configuration.
type EmailProvider struct {
	cfg config.NotificationsConfig
}

func NewEmailProvider(cfg config.NotificationsConfig) *EmailProvider {
	return &EmailProvider{cfg: cfg}
}

func (p *EmailProvider) Type() string { return ChannelEmail }

func (p *EmailProvider) Send(ctx context.Context, channelConfig map[string]string, msg *Message) error {
	recipients := splitRecipients(channelConfig["to"])
	if len(recipients) == 0 {
		return apperrors.NewConfiguration("email channel requires a \"to\" address")
	}
	if p.cfg.EmailSMTPHost == "" {
		return apperrors.NewConfiguration("SMTP relay is not configured")
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Alert notification"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.cfg.EmailFrom)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	var auth smtp.Auth
	if p.cfg.EmailSMTPUser != "" {
		auth = smtp.PlainAuth("", p.cfg.EmailSMTPUser, p.cfg.EmailSMTPPassword, p.cfg.EmailSMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.EmailSMTPHost, p.cfg.EmailSMTPPort)
	if err := smtp.SendMail(addr, auth, p.cfg.EmailFrom, recipients, []byte(b.String())); err != nil {
		return apperrors.NewTransient("failed to send email", err)
	}
	return nil
}

func (p *EmailProvider) Test(ctx context.Context, channelConfig map[string]string) error {
	return p.Send(ctx, channelConfig, &Message{
		Subject: "Test notification",
		Body:    "This is a test notification from the alerting service.",
		Alert:   &models.Alert{},
	})
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// ChatProvider posts messages to a chat webhook (Slack compatible payload).
type ChatProvider struct {
	client *http.Client
}

func NewChatProvider(timeout time.Duration) *ChatProvider {
	return &ChatProvider{client: &http.Client{Timeout: timeout}}
}

func (p *ChatProvider) Type() string { return ChannelChat }

func (p *ChatProvider) Send(ctx context.Context, channelConfig map[string]string, msg *Message) error {
	url := channelConfig["webhook_url"]
	if url == "" {
		return apperrors.NewConfiguration("chat channel requires a \"webhook_url\"")
	}

	payload := map[string]interface{}{"text": msg.Body}
	if channel := channelConfig["channel"]; channel != "" {
		payload["channel"] = channel
	}
	if msg.Alert != nil && msg.Alert.Severity != "" {
		payload["attachments"] = []map[string]interface{}{
			{
				"color": severityColor(msg.Alert.Severity),
				"title": msg.Subject,
				"text":  msg.Body,
				"fields": []map[string]interface{}{
					{"title": "Severity", "value": msg.Alert.Severity, "short": true},
					{"title": "Rule", "value": msg.Alert.RuleName, "short": true},
				},
			},
		}
		payload["text"] = msg.Subject
	}
	return postJSON(ctx, p.client, url, payload)
}

func (p *ChatProvider) Test(ctx context.Context, channelConfig map[string]string) error {
	return p.Send(ctx, channelConfig, &Message{
		Subject: "Test notification",
		Body:    "This is a test notification from the alerting service.",
	})
}

func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#FF0000"
	case SeverityError:
		return "#FF6600"
	case SeverityWarning:
		return "#FFCC00"
	default:
		return "#36A64F"
	}
}

// WebhookProvider posts the full alert payload to an arbitrary HTTP
// endpoint. Any non-2xx response is a delivery failure.
type WebhookProvider struct {
	client *http.Client
}

func NewWebhookProvider(timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{client: &http.Client{Timeout: timeout}}
}

func (p *WebhookProvider) Type() string { return ChannelWebhook }

func (p *WebhookProvider) Send(ctx context.Context, channelConfig map[string]string, msg *Message) error {
	url := channelConfig["url"]
	if url == "" {
		return apperrors.NewConfiguration("webhook channel requires a \"url\"")
	}

	payload := map[string]interface{}{
		"subject":   msg.Subject,
		"message":   msg.Body,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if msg.Alert != nil {
		payload["alert"] = msg.Alert
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := channelConfig["auth_token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.NewTransient("webhook request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewTransient(fmt.Sprintf("webhook returned status %d", resp.StatusCode), nil)
	}
	return nil
}

func (p *WebhookProvider) Test(ctx context.Context, channelConfig map[string]string) error {
	return p.Send(ctx, channelConfig, &Message{
		Subject: "Test notification",
		Body:    "This is a test notification from the alerting service.",
	})
}

// SMSProvider delivers texts through an HTTP SMS gateway. The gateway URL
// and destination number live in the channel config.
type SMSProvider struct {
	client *http.Client
}

func NewSMSProvider(timeout time.Duration) *SMSProvider {
	return &SMSProvider{client: &http.Client{Timeout: timeout}}
}

func (p *SMSProvider) Type() string { return ChannelSMS }

func (p *SMSProvider) Send(ctx context.Context, channelConfig map[string]string, msg *Message) error {
	url := channelConfig["gateway_url"]
	to := channelConfig["to"]
	if url == "" || to == "" {
		return apperrors.NewConfiguration("sms channel requires \"gateway_url\" and \"to\"")
	}

	// SMS bodies are short; drop the rendered body to a single line.
	text := strings.Join(strings.Fields(msg.Body), " ")
	if len(text) > 160 {
		text = text[:157] + "..."
	}
	return postJSON(ctx, p.client, url, map[string]interface{}{
		"to":      to,
		"message": text,
	})
}

func (p *SMSProvider) Test(ctx context.Context, channelConfig map[string]string) error {
	return p.Send(ctx, channelConfig, &Message{Body: "Test notification from the alerting service."})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewTransient("notification request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewTransient(fmt.Sprintf("notification endpoint returned status %d", resp.StatusCode), nil)
	}
	return nil
}
