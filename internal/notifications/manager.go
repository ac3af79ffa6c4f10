package notifications

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PPraveen007/Decoy/internal/capture"
	"github.com/PPraveen007/Decoy/internal/config"
	"github.com/PPraveen007/Decoy/internal/metrics"
)

// Notification describes one stored interaction worth telling an operator about.
type Notification struct {
	Timestamp     time.Time
	InteractionID int64
	Kind          capture.Kind
	ThreatLevel   string // CRITICAL, HIGH or MEDIUM
	Signals       []string
	SourceIP      string
	Method        string
	Path          string
	UserAgent     string
}

// NotificationProvider delivers notifications to one destination.
type NotificationProvider interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, notification *Notification) error
}

// Rules selects which threat levels are delivered.
type Rules struct {
	AlertOnCritical bool
	AlertOnHigh     bool
	AlertOnMedium   bool
}

// RulesFor enables every level at or above minSeverity.
func RulesFor(minSeverity string) Rules {
	switch strings.ToLower(minSeverity) {
	case "medium":
		return Rules{AlertOnCritical: true, AlertOnHigh: true, AlertOnMedium: true}
	case "high":
		return Rules{AlertOnCritical: true, AlertOnHigh: true}
	default:
		return Rules{AlertOnCritical: true}
	}
}

// Manager queues notifications and fans them out to every enabled provider
// on a background worker. Enqueueing never blocks the caller; when the queue
// is full the notification is dropped.
type Manager struct {
	providers []NotificationProvider
	rules     Rules
	severity  func(signals []string) string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *Notification
	done   chan struct{}
}

// NewManager builds the providers enabled in cfg. severity maps signals to a
// threat level; m may be nil.
func NewManager(cfg config.AlertsConfig, severity func([]string) string, m *metrics.Metrics, logger *slog.Logger) *Manager {
	var providers []NotificationProvider
	if cfg.Webhook.URL != "" {
		providers = append(providers, NewWebhookProvider(cfg.Webhook, cfg.Timeout, cfg.RetryCount, cfg.RetryDelay))
	}
	if cfg.Slack.WebhookURL != "" {
		providers = append(providers, NewSlackProvider(cfg.Slack, cfg.Timeout))
	}
	return NewManagerWithProviders(RulesFor(cfg.MinSeverity), cfg.QueueSize, severity, m, logger, providers...)
}

func NewManagerWithProviders(rules Rules, queueSize int, severity func([]string) string, m *metrics.Metrics, logger *slog.Logger, providers ...NotificationProvider) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	manager := &Manager{
		providers: providers,
		rules:     rules,
		severity:  severity,
		metrics:   m,
		logger:    logger,
		timeout:   time.Minute,
		queue:     make(chan *Notification, queueSize),
		done:      make(chan struct{}),
	}

	if len(providers) == 0 {
		logger.Info("no notification providers enabled")
	}
	for _, p := range providers {
		logger.Info("notification provider initialized", slog.String("provider", p.Name()))
	}

	go manager.run()
	return manager
}

// Alert queues a notification for rec when its signals reach the configured
// threat level.
func (m *Manager) Alert(rec capture.Record) {
	if len(rec.Signals) == 0 || m.severity == nil {
		return
	}
	m.Send(&Notification{
		Timestamp:     rec.Timestamp,
		InteractionID: rec.ID,
		Kind:          rec.Kind,
		ThreatLevel:   strings.ToUpper(m.severity(rec.Signals)),
		Signals:       rec.Signals,
		SourceIP:      rec.SourceAddress,
		Method:        rec.Method,
		Path:          rec.Path,
		UserAgent:     rec.UserAgent,
	})
}

// Send queues notification for delivery. It reports whether it was queued.
func (m *Manager) Send(notification *Notification) bool {
	if len(m.providers) == 0 || !m.shouldSendNotification(notification.ThreatLevel) {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.queue <- notification:
		return true
	default:
		m.logger.Warn("notification queue full, dropping alert",
			slog.Int64("interaction_id", notification.InteractionID))
		m.record("queue", "dropped")
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for notification := range m.queue {
		m.deliver(notification)
	}
}

// deliver sends to all providers in parallel.
func (m *Manager) deliver(notification *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, provider := range m.providers {
		if !provider.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(p NotificationProvider) {
			defer wg.Done()
			if err := p.Send(ctx, notification); err != nil {
				m.logger.Error("notification failed",
					slog.String("provider", p.Name()),
					slog.Int64("interaction_id", notification.InteractionID),
					slog.String("error", err.Error()),
				)
				m.record(p.Name(), "failed")
				return
			}
			m.record(p.Name(), "sent")
		}(provider)
	}
	wg.Wait()
}

func (m *Manager) record(provider, result string) {
	if m.metrics != nil {
		m.metrics.Alerts.WithLabelValues(provider, result).Inc()
	}
}

func (m *Manager) shouldSendNotification(threatLevel string) bool {
	switch threatLevel {
	case "CRITICAL":
		return m.rules.AlertOnCritical
	case "HIGH":
		return m.rules.AlertOnHigh
	case "MEDIUM":
		return m.rules.AlertOnMedium
	default:
		return false
	}
}

// GetProviderStatus returns status of all providers.
func (m *Manager) GetProviderStatus() map[string]bool {
	status := make(map[string]bool)
	for _, provider := range m.providers {
		status[provider.Name()] = provider.IsEnabled()
	}
	return status
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}
