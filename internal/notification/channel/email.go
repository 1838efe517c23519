package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

// sendFunc hands a composed message to a mail server.
type sendFunc func(ctx context.Context, from string, to []string, body []byte) error

// Email composes a MIME message and submits it over SMTP.
type Email struct {
	cfg  config.SMTPConfig
	send sendFunc
	now  func() time.Time
}

// NewEmail creates the email adapter. An empty SMTP host leaves it
// unconfigured and every attempt is recorded as misconfigured.
func NewEmail(cfg config.SMTPConfig) *Email {
	e := &Email{cfg: cfg, now: time.Now}
	e.send = e.smtpSend
	return e
}

func (e *Email) Name() domain.Channel { return domain.ChannelEmail }

func (e *Email) Deliver(ctx context.Context, to notification.Recipient, msg notification.Message) error {
	if e.cfg.Host == "" {
		return &notification.ConfigError{Channel: domain.ChannelEmail, Reason: "no SMTP host configured"}
	}
	if to.Email == "" {
		return &notification.ConfigError{Channel: domain.ChannelEmail, Reason: "no email address for user"}
	}

	body, err := e.compose(to.Email, msg)
	if err != nil {
		return err
	}
	return e.send(ctx, e.fromAddress(), []string{to.Email}, body)
}

func (e *Email) fromAddress() string {
	if e.cfg.From != "" {
		return e.cfg.From
	}
	return "no-reply@" + e.cfg.Host
}

func (e *Email) compose(to string, msg notification.Message) ([]byte, error) {
	from, err := mail.ParseAddress(e.fromAddress())
	if err != nil {
		return nil, &notification.ConfigError{Channel: domain.ChannelEmail, Reason: "invalid from address"}
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return nil, &notification.ConfigError{Channel: domain.ChannelEmail, Reason: "invalid email address"}
	}

	var h mail.Header
	h.SetDate(e.now())
	h.SetAddressList("From", []*mail.Address{{Name: "CVE Sentinel", Address: from.Address}})
	h.SetAddressList("To", []*mail.Address{rcpt})
	h.SetSubject(subjectFor(msg))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("X-Sentinel-Notification", msg.NotificationID)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	if _, err := io.WriteString(w, textBody(msg)); err != nil {
		return nil, fmt.Errorf("write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func subjectFor(msg notification.Message) string {
	switch msg.Priority {
	case domain.PriorityCritical, domain.PriorityHigh:
		return fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Priority)), msg.Title)
	default:
		return msg.Title
	}
}

func textBody(msg notification.Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	b.WriteString("\r\n\r\n")
	b.WriteString(msg.Message)
	b.WriteString("\r\n\r\n-- \r\nYou are receiving this because email notifications are enabled for your account.\r\n")
	return b.String()
}

// smtpSend runs one SMTP transaction. The dial and every command are bound
// to ctx through the connection deadline.
func (e *Email) smtpSend(ctx context.Context, from string, to []string, body []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", e.cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return &notification.ConfigError{Channel: domain.ChannelEmail, Reason: "SMTP server does not offer AUTH"}
		}
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	if err := c.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp QUIT: %w", err)
	}
	return nil
}
