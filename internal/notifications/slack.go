package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PPraveen007/Decoy/internal/config"
)

type SlackProvider struct {
	config config.SlackConfig
	client *http.Client
}

func NewSlackProvider(cfg config.SlackConfig, timeout time.Duration) *SlackProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (sp *SlackProvider) Name() string {
	return "slack"
}

func (sp *SlackProvider) IsEnabled() bool {
	return sp.config.WebhookURL != "" && sp.config.WebhookURL != "${SLACK_WEBHOOK_URL}"
}

// Send posts a Slack message for the alert.
func (sp *SlackProvider) Send(ctx context.Context, notification *Notification) error {
	payloadJSON, err := json.Marshal(buildSlackPayload(notification))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.config.WebhookURL, bytes.NewReader(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Decoy/1.0")

	resp, err := sp.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func buildSlackPayload(notification *Notification) map[string]any {
	color := "#ffaa00"
	emoji := ":warning:"
	switch notification.ThreatLevel {
	case "CRITICAL":
		color = "#ff0000"
		emoji = ":rotating_light:"
	case "HIGH":
		color = "#ff6600"
	}

	fields := []map[string]any{
		{"title": "Threat Level", "value": emoji + " " + notification.ThreatLevel, "short": true},
		{"title": "Interaction", "value": fmt.Sprintf("#%d %s", notification.InteractionID, notification.Kind), "short": true},
		{"title": "Signals", "value": strings.Join(notification.Signals, ", "), "short": true},
		{"title": "Source IP", "value": "`" + notification.SourceIP + "`", "short": true},
		{"title": "HTTP Method", "value": notification.Method, "short": true},
		{"title": "Target Path", "value": "`" + notification.Path + "`", "short": false},
		{"title": "Timestamp", "value": notification.Timestamp.Format("2006-01-02 15:04:05 MST"), "short": false},
	}

	attachment := map[string]any{
		"fallback": fmt.Sprintf("Decoy alert: %s from %s", notification.ThreatLevel, notification.SourceIP),
		"color":    color,
		"title":    fmt.Sprintf("%s Decoy Alert - %s", emoji, notification.ThreatLevel),
		"fields":   fields,
		"ts":       notification.Timestamp.Unix(),
	}

	return map[string]any{
		"username":    "Decoy Honeypot",
		"icon_emoji":  ":honey_pot:",
		"attachments": []map[string]any{attachment},
	}
}
