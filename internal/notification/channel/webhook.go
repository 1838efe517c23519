package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

// Headers set on every webhook request.
const (
	HeaderEvent    = "X-Sentinel-Event"
	HeaderDelivery = "X-Sentinel-Delivery"
	userAgent      = "cve-sentinel-webhook/1"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Webhook POSTs the message as JSON to the user's webhook URL.
type Webhook struct {
	client *http.Client
}

// NewWebhook creates the webhook adapter. A nil client uses one with no
// timeout of its own; the per-attempt context bounds each call.
func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{client: client}
}

func (w *Webhook) Name() domain.Channel { return domain.ChannelWebhook }

func (w *Webhook) Deliver(ctx context.Context, to notification.Recipient, msg notification.Message) error {
	if to.WebhookURL == "" {
		return &notification.ConfigError{Channel: domain.ChannelWebhook, Reason: "no webhook URL"}
	}
	u, err := url.Parse(to.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &notification.ConfigError{Channel: domain.ChannelWebhook, Reason: "invalid webhook URL"}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, string(msg.Type))
	req.Header.Set(HeaderDelivery, msg.NotificationID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
