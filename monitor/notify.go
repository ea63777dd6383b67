package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Notifier delivers a triggered alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}

// LogNotifier writes alerts to the process log. It never fails and is
// always part of the dispatch set.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, alert *Alert) error {
	log.Printf("ALERT [%s] %s rule=%s triggered_at=%s",
		alert.Severity, alert.Message, alert.RuleID, alert.TriggeredAt.Format(time.RFC3339))
	return nil
}

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	Host     string
	Port     string
	From     string
	To       []string
	Username string
	Password string
}

func (EmailNotifier) Name() string { return "email" }

func (n EmailNotifier) Notify(_ context.Context, alert *Alert) error {
	if n.Host == "" || len(n.To) == 0 {
		return fmt.Errorf("email channel not configured")
	}
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.To, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", alert.Severity, alert.AlertType)
	fmt.Fprintf(&msg, "\r\n%s\r\nrule: %s\r\ntriggered: %s\r\n",
		alert.Message, alert.RuleID, alert.TriggeredAt.Format(time.RFC3339))

	var auth smtp.Auth
	if n.Username != "" {
		auth = smtp.PlainAuth("", n.Username, n.Password, n.Host)
	}
	return smtp.SendMail(net.JoinHostPort(n.Host, n.Port), auth, n.From, n.To, msg.Bytes())
}

// WebhookNotifier posts the alert as JSON.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (WebhookNotifier) Name() string { return "webhook" }

func (n WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	if n.URL == "" {
		return fmt.Errorf("webhook channel not configured")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// SlackNotifier posts a colored attachment to an incoming webhook.
type SlackNotifier struct {
	WebhookURL string
}

func (SlackNotifier) Name() string { return "slack" }

func (n SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("slack channel not configured")
	}
	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color: slackColor(alert.Severity),
			Title: alert.AlertType,
			Text:  alert.Message,
			Fields: []slack.AttachmentField{
				{Title: "rule", Value: alert.RuleID, Short: true},
				{Title: "severity", Value: string(alert.Severity), Short: true},
				{Title: "triggered", Value: alert.TriggeredAt.Format(time.RFC3339), Short: true},
			},
		}},
	}
	return slack.PostWebhookContext(ctx, n.WebhookURL, msg)
}

func slackColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "danger"
	case SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
