// Package notify pushes one-line action outcomes to the staff channel.
// Delivery is fire and forget: a lost notification is an annoyance, a
// blocked dispatch pipeline is an outage.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

const notifyTimeout = 10 * time.Second

// Notifier delivers operational notifications. Implementations log their
// own failures and never surface them to callers.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Noop swallows notifications. The default when no webhook is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, string) {}

// Webhook posts notifications as JSON to a chat webhook.
type Webhook struct {
	httpClient *http.Client
	url        string
	channel    string
}

// NewWebhook builds a Webhook notifier posting to url, tagged for channel.
func NewWebhook(url, channel string) *Webhook {
	return &Webhook{
		httpClient: &http.Client{Timeout: notifyTimeout},
		url:        url,
		channel:    channel,
	}
}

type webhookPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Notify posts one message. Failures are logged and dropped.
func (w *Webhook) Notify(ctx context.Context, message string) {
	body, err := json.Marshal(webhookPayload{Channel: w.channel, Text: message})
	if err != nil {
		log.Printf("[WARN] Failed to marshal notification: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[WARN] Failed to create notification request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Printf("[WARN] Notification delivery failed: %v", err)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing notification response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[WARN] Notification webhook returned status %d", resp.StatusCode)
		return
	}
	log.Printf("[DEBUG] Notification delivered: %s", message)
}
