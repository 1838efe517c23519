package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/pushhub"
)

var sample = notification.Message{
	NotificationID: "n1",
	UserID:         "u1",
	Type:           domain.TypeSystemAlert,
	Title:          "Maintenance",
	Message:        "Read-only at 02:00 UTC",
	Data:           domain.SystemAlertData{Category: "maintenance"},
	Priority:       domain.PriorityHigh,
	CreatedAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
}

func isConfigError(err error) bool {
	var ce *notification.ConfigError
	return errors.As(err, &ce)
}

func TestPush_PublishesToHub(t *testing.T) {
	hub := pushhub.NewHub()
	events, unsub := hub.Subscribe("u1")
	defer unsub()

	p := NewPush(hub)
	require.NoError(t, p.Deliver(context.Background(), notification.Recipient{UserID: "u1"}, sample))

	select {
	case ev := <-events:
		assert.Equal(t, EventNotification, ev.Type)
		msg, ok := ev.Data.(notification.Message)
		require.True(t, ok)
		assert.Equal(t, "n1", msg.NotificationID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestPush_NoSenderIsMisconfigured(t *testing.T) {
	err := NewPush(nil).Deliver(context.Background(), notification.Recipient{UserID: "u1"}, sample)
	assert.True(t, isConfigError(err))
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got map[string]interface{}
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(srv.Client())
	err := w.Deliver(context.Background(), notification.Recipient{UserID: "u1", WebhookURL: srv.URL}, sample)
	require.NoError(t, err)

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "system_alert", headers.Get(HeaderEvent))
	assert.Equal(t, "n1", headers.Get(HeaderDelivery))
	assert.Equal(t, "n1", got["id"])
	assert.Equal(t, "Maintenance", got["title"])
}

func TestWebhook_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.Client()).Deliver(context.Background(),
		notification.Recipient{WebhookURL: srv.URL}, sample)
	require.Error(t, err)
	assert.False(t, isConfigError(err), "a bad status is transient")
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream broke")
}

func TestWebhook_MissingOrInvalidURL(t *testing.T) {
	w := NewWebhook(nil)
	for _, u := range []string{"", "ftp://example.com/x", "not a url"} {
		err := w.Deliver(context.Background(), notification.Recipient{WebhookURL: u}, sample)
		assert.True(t, isConfigError(err), "url %q", u)
	}
}

func TestWebhook_HonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewWebhook(srv.Client()).Deliver(ctx, notification.Recipient{WebhookURL: srv.URL}, sample)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmail_Unconfigured(t *testing.T) {
	e := NewEmail(config.SMTPConfig{})
	err := e.Deliver(context.Background(), notification.Recipient{Email: "a@example.com"}, sample)
	assert.True(t, isConfigError(err))

	e = NewEmail(config.SMTPConfig{Host: "smtp.example.com", Port: 587})
	err = e.Deliver(context.Background(), notification.Recipient{}, sample)
	assert.True(t, isConfigError(err))
}

func TestEmail_ComposesMIME(t *testing.T) {
	e := NewEmail(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"})
	e.now = func() time.Time { return sample.CreatedAt }

	var sentFrom string
	var sentTo []string
	var raw []byte
	e.send = func(_ context.Context, from string, to []string, body []byte) error {
		sentFrom, sentTo, raw = from, to, body
		return nil
	}

	require.NoError(t, e.Deliver(context.Background(),
		notification.Recipient{UserID: "u1", Email: "dana@example.com"}, sample))
	assert.Equal(t, "alerts@example.com", sentFrom)
	assert.Equal(t, []string{"dana@example.com"}, sentTo)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[HIGH] Maintenance", subject)
	assert.Equal(t, "n1", r.Header.Get("X-Sentinel-Notification"))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Read-only at 02:00 UTC")
}

func TestEmail_SendFailureIsTransient(t *testing.T) {
	e := NewEmail(config.SMTPConfig{Host: "smtp.example.com", Port: 587})
	e.send = func(context.Context, string, []string, []byte) error {
		return errors.New("451 try later")
	}
	err := e.Deliver(context.Background(), notification.Recipient{Email: "dana@example.com"}, sample)
	require.Error(t, err)
	assert.False(t, isConfigError(err))
}

func TestEmail_DialHonoursContext(t *testing.T) {
	e := NewEmail(config.SMTPConfig{Host: "127.0.0.1", Port: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := e.Deliver(ctx, notification.Recipient{Email: "dana@example.com"}, sample)
	require.Error(t, err)
	assert.False(t, isConfigError(err))
}
