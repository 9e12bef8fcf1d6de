// Package notify posts operator alerts to a webhook when a user's calendar
// connection breaks and when it starts syncing again.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidWebhook = errors.New("invalid webhook URL")
	ErrCooldown       = errors.New("cooldown period must be at least 1 minute")
)

const sendTimeout = 10 * time.Second

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeBroken   AlertType = "connection_broken"
	AlertTypeRecovery AlertType = "recovery"
)

// Alert represents a notification alert.
type Alert struct {
	Type      AlertType
	UserID    string
	Message   string
	Details   string
	Timestamp time.Time
}

// Config holds notification configuration.
type Config struct {
	WebhookURL string
	// How long to wait before re-alerting for the same user.
	CooldownPeriod time.Duration
}

// Notifier sends alert notifications.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu             sync.Mutex
	wg             sync.WaitGroup
	lastAlertTimes map[string]time.Time
	broken         map[string]bool
}

// New creates a new Notifier. client should refuse private addresses; the
// validator package provides one.
func New(cfg Config, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	return &Notifier{
		cfg:            cfg,
		httpClient:     client,
		now:            time.Now,
		lastAlertTimes: make(map[string]time.Time),
		broken:         make(map[string]bool),
	}
}

// ValidateConfig validates the notification configuration.
func ValidateConfig(cfg Config) error {
	if cfg.WebhookURL == "" {
		return nil
	}

	parsed, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: must use HTTPS", ErrInvalidWebhook)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: internal host", ErrInvalidWebhook)
	}

	if cfg.CooldownPeriod < time.Minute {
		return ErrCooldown
	}
	return nil
}

// IsEnabled returns true if a webhook is configured.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookURL != ""
}

// ConnectionBroken alerts that userID needs to reconnect Google Calendar.
// Returns true if an alert was sent, false if still in cooldown.
func (n *Notifier) ConnectionBroken(ctx context.Context, userID, reason string) bool {
	if !n.IsEnabled() {
		return false
	}

	n.mu.Lock()
	now := n.now()
	if n.broken[userID] {
		if last, ok := n.lastAlertTimes[userID]; ok && now.Sub(last) < n.cfg.CooldownPeriod {
			n.mu.Unlock()
			return false
		}
	}
	n.broken[userID] = true
	n.lastAlertTimes[userID] = now
	n.mu.Unlock()

	n.dispatch(ctx, Alert{
		Type:      AlertTypeBroken,
		UserID:    userID,
		Message:   fmt.Sprintf("Google Calendar connection for user %s needs reauthorization", userID),
		Details:   reason,
		Timestamp: now,
	})
	return true
}

// ConnectionRecovered alerts that a previously broken user synced successfully.
func (n *Notifier) ConnectionRecovered(ctx context.Context, userID string) bool {
	if !n.IsEnabled() {
		return false
	}

	n.mu.Lock()
	wasBroken := n.broken[userID]
	if wasBroken {
		delete(n.broken, userID)
		delete(n.lastAlertTimes, userID)
	}
	n.mu.Unlock()

	if !wasBroken {
		return false
	}

	n.dispatch(ctx, Alert{
		Type:      AlertTypeRecovery,
		UserID:    userID,
		Message:   fmt.Sprintf("Google Calendar connection for user %s has recovered", userID),
		Details:   "Sync completed successfully",
		Timestamp: n.now(),
	})
	return true
}

// Wait blocks until in-flight alerts are delivered.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// dispatch sends in the background so a slow webhook never holds up a sync.
func (n *Notifier) dispatch(ctx context.Context, alert Alert) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := n.sendWebhook(sendCtx, alert); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}()
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType string `json:"alert_type"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	emoji := ":x:"
	if alert.Type == AlertTypeRecovery {
		emoji = ":white_check_mark:"
	}

	payload := WebhookPayload{
		AlertType: string(alert.Type),
		UserID:    alert.UserID,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		Text:      fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Type)
	return nil
}
