package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PPraveen007/Decoy/internal/config"
)

type WebhookProvider struct {
	config     config.WebhookConfig
	client     *http.Client
	retryCount int
	retryDelay time.Duration
}

// WebhookPayload is the JSON body posted for each alert.
type WebhookPayload struct {
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	InteractionID int64     `json:"interaction_id"`
	Kind          string    `json:"interaction_kind"`
	ThreatLevel   string    `json:"threat_level"`
	Signals       []string  `json:"signals"`
	SourceIP      string    `json:"source_ip"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

func NewWebhookProvider(cfg config.WebhookConfig, timeout time.Duration, retryCount int, retryDelay time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookProvider{
		config:     cfg,
		client:     &http.Client{Timeout: timeout},
		retryCount: max(retryCount, 1),
		retryDelay: retryDelay,
	}
}

func (wp *WebhookProvider) Name() string {
	return "webhook"
}

func (wp *WebhookProvider) IsEnabled() bool {
	return wp.config.URL != ""
}

// Send posts the alert, retrying failed attempts.
func (wp *WebhookProvider) Send(ctx context.Context, notification *Notification) error {
	payloadJSON, err := json.Marshal(buildWebhookPayload(notification))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= wp.retryCount; attempt++ {
		if lastErr = wp.sendWebhookRequest(ctx, payloadJSON); lastErr == nil {
			return nil
		}
		if attempt == wp.retryCount {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook gave up after %d attempts: %w", attempt, lastErr)
		case <-time.After(wp.retryDelay):
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", wp.retryCount, lastErr)
}

func (wp *WebhookProvider) sendWebhookRequest(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wp.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Decoy-Webhook/1.0")

	switch wp.config.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+wp.config.AuthValue)
	case "apikey":
		req.Header.Set("X-API-Key", wp.config.AuthValue)
	case "basic":
		req.Header.Set("Authorization", "Basic "+wp.config.AuthValue)
	}

	resp, err := wp.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func buildWebhookPayload(notification *Notification) *WebhookPayload {
	return &WebhookPayload{
		Event:         "interaction_alert",
		Timestamp:     notification.Timestamp,
		InteractionID: notification.InteractionID,
		Kind:          string(notification.Kind),
		ThreatLevel:   notification.ThreatLevel,
		Signals:       notification.Signals,
		SourceIP:      notification.SourceIP,
		Method:        notification.Method,
		Path:          notification.Path,
		UserAgent:     notification.UserAgent,
	}
}
