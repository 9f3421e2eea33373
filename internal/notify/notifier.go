// Package notify delivers workflow and grant events to their audiences.
// Delivery is fire-and-forget: a failed notification is logged by the caller
// and never rolls back or fails the state transition it follows.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notification event types.
const (
	EventRequestSubmitted   = "request_submitted"
	EventStageAdvanced      = "stage_advanced"
	EventRequestRejected    = "request_rejected"
	EventRequestEscalated   = "request_escalated"
	EventGrantCreated       = "grant_created"
	EventGrantRevoked       = "grant_revoked"
	EventGrantExpired       = "grant_expired"
	EventRevocationSchedule = "grant_revocation_scheduled"
)

// RoleRecipient builds an audience token addressing every holder of a role.
// Resolution of the token to concrete users belongs to the delivery system.
func RoleRecipient(role string) string {
	return "role:" + role
}

// Notification is one event addressed to a single recipient: a user ID or a
// role audience token.
type Notification struct {
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	RelatedID string `json:"related_id"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use and must bound their own delivery time.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the service log. It is the default
// driver and the stand-in when no delivery endpoint is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at info level.
func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.logger.Info("notification",
		zap.String("recipient", notification.Recipient),
		zap.String("type", notification.Type),
		zap.String("title", notification.Title),
		zap.String("related_id", notification.RelatedID),
	)
	return nil
}

// WebhookNotifier posts notifications as JSON to a configured endpoint.
type WebhookNotifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier with a bounded request
// timeout.
func NewWebhookNotifier(endpoint string, timeout time.Duration) *WebhookNotifier {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify posts the notification to the webhook endpoint.
func (n *WebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Recorder captures notifications in memory. For testing.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records the notification.
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of all recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns recorded notifications addressed to the given recipient.
func (r *Recorder) SentTo(recipient string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out
}
