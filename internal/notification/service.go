package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/domain"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
	"cvesentinel.io/sentinel/internal/pkg/worker"
)

// DefaultMaxRetries caps the retry sweep when no positive cap is given.
const DefaultMaxRetries = 3

// DefaultStatsWindow bounds DeliveryStats to recent records.
const DefaultStatsWindow = 30 * 24 * time.Hour

// Default per-attempt timeouts.
var defaultTimeouts = map[domain.Channel]time.Duration{
	domain.ChannelPush:    2 * time.Second,
	domain.ChannelEmail:   10 * time.Second,
	domain.ChannelWebhook: 5 * time.Second,
}

// SendRequest is one notification for one recipient.
type SendRequest struct {
	UserID    string
	Type      domain.NotificationType
	Title     string
	Message   string
	Data      domain.Payload
	Priority  domain.Priority
	ExpiresAt *time.Time
	// Channels, when non-empty, restricts which external channels may be tried.
	Channels []domain.Channel
}

// Sender is the send surface used by triggers and handlers.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*domain.Notification, error)
	// SendToMany is best-effort: one recipient's failure does not stop the others.
	SendToMany(ctx context.Context, userIDs []string, req SendRequest) error
}

// Options configures a Service.
type Options struct {
	Channels    []Channel
	Timeouts    map[domain.Channel]time.Duration
	Pool        *worker.Pool
	MaxRetries  int
	StatsWindow time.Duration
	Clock       func() time.Time
}

// Service is the notification core.
type Service struct {
	store       Store
	prefs       PreferencesStore
	directory   Directory
	channels    map[domain.Channel]Channel
	timeouts    map[domain.Channel]time.Duration
	pool        *worker.Pool
	maxRetries  int
	statsWindow time.Duration
	now         func() time.Time
}

// NewService wires the core. A nil directory leaves email addresses empty.
func NewService(store Store, prefs PreferencesStore, directory Directory, opts Options) *Service {
	s := &Service{
		store:       store,
		prefs:       prefs,
		directory:   directory,
		channels:    make(map[domain.Channel]Channel, len(opts.Channels)),
		timeouts:    make(map[domain.Channel]time.Duration, len(defaultTimeouts)),
		pool:        opts.Pool,
		maxRetries:  opts.MaxRetries,
		statsWindow: opts.StatsWindow,
		now:         opts.Clock,
	}
	for _, ch := range opts.Channels {
		s.channels[ch.Name()] = ch
	}
	for ch, d := range defaultTimeouts {
		s.timeouts[ch] = d
	}
	for ch, d := range opts.Timeouts {
		if d > 0 {
			s.timeouts[ch] = d
		}
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.statsWindow <= 0 {
		s.statsWindow = DefaultStatsWindow
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

var _ Sender = (*Service)(nil)

// Send persists a notification and fans it out to the recipient's enabled channels.
// Only validation and the initial write can fail the call.
func (s *Service) Send(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Internal(apperrors.CodeInternal, "generate notification id")
	}

	now := s.now()
	n := &domain.Notification{
		ID:        id.String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		Priority:  req.Priority,
		IsRead:    false,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	n.RecordSuccess(domain.ChannelInApp, now)

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, apperrors.Storage(err, "insert notification")
	}

	prefs, err := s.preferences(ctx, req.UserID)
	if err != nil {
		logger.Warn("preferences unavailable, in-app delivery only",
			zap.String("notification_id", n.ID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return n, nil
	}

	attempt, suppressed := planChannels(n.Type, n.Priority, prefs, req.Channels, now)
	n.Suppressed = suppressed
	if len(attempt) == 0 && len(suppressed) == 0 {
		return n, nil
	}

	rcpt := s.resolveRecipient(ctx, prefs, attempt)
	s.fanOut(ctx, n, attempt, rcpt)

	if err := s.store.UpdateDeliveries(ctx, n); err != nil {
		// The in-app record exists; a lost outcome write only hides delivery history.
		logger.Error("failed to record delivery outcomes",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}

	logger.Debug("notification sent",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
		zap.String("outcome", string(n.Outcome())),
	)
	return n, nil
}

// SendToMany sends req to every distinct user through the delivery pool.
func (s *Service) SendToMany(ctx context.Context, userIDs []string, req SendRequest) error {
	ids := distinct(userIDs)
	if len(ids) == 0 {
		return nil
	}

	send := func(ctx context.Context, userID string) error {
		r := req
		r.UserID = userID
		if _, err := s.Send(ctx, r); err != nil {
			logger.Error("notification delivery failed",
				zap.String("recipient", userID),
				zap.String("type", string(req.Type)),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	var failCount int
	if s.pool != nil {
		failCount = worker.Each(ctx, s.pool, ids, send)
	} else {
		for _, id := range ids {
			if err := send(ctx, id); err != nil {
				failCount++
			}
		}
	}

	if failCount > 0 {
		return apperrors.Delivery(
			fmt.Errorf("notification delivery failed for %d/%d recipients", failCount, len(ids)),
			"send to many",
		)
	}
	return nil
}

// planChannels decides which external channels to try and which quiet hours suppress.
func planChannels(t domain.NotificationType, p domain.Priority, prefs domain.Preferences, only []domain.Channel, at time.Time) (attempt, suppressed []domain.Channel) {
	if !prefs.CategoryEnabled(t) {
		return nil, nil
	}
	quiet := !p.BypassesQuietHours() && prefs.QuietHours.Active(at)

	for _, ch := range domain.ExternalChannels {
		if !prefs.ChannelEnabled(ch) {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, ch) {
			continue
		}
		if quiet && (ch == domain.ChannelPush || ch == domain.ChannelEmail) {
			suppressed = append(suppressed, ch)
			continue
		}
		attempt = append(attempt, ch)
	}
	return attempt, suppressed
}

// fanOut tries every channel in order. A failure never stops the loop.
func (s *Service) fanOut(ctx context.Context, n *domain.Notification, channels []domain.Channel, rcpt recipient) {
	msg := messageFor(n)
	for _, ch := range channels {
		err := s.attempt(ctx, ch, rcpt, msg)
		s.record(n, ch, err)
	}
}

func (s *Service) record(n *domain.Notification, ch domain.Channel, err error) {
	n.BeginAttempt(ch, s.now())
	s.settle(n, ch, err)
}

// settle stores the outcome of an attempt already counted on n.
func (s *Service) settle(n *domain.Notification, ch domain.Channel, err error) {
	if err == nil {
		n.MarkDelivered(ch)
		return
	}

	var cfgErr *ConfigError
	misconfigured := errors.As(err, &cfgErr)
	n.MarkFailed(ch, err.Error(), misconfigured)

	logger.Warn("channel delivery failed",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(ch)),
		zap.Bool("misconfigured", misconfigured),
		zap.Error(err),
	)
}

// attempt runs one adapter call under the channel timeout.
func (s *Service) attempt(ctx context.Context, ch domain.Channel, rcpt recipient, msg Message) error {
	adapter, ok := s.channels[ch]
	if !ok {
		return &ConfigError{Channel: ch, Reason: "channel not configured"}
	}
	if ch == domain.ChannelEmail && rcpt.emailErr != nil {
		return &ChannelError{Channel: ch, Err: fmt.Errorf("resolve address: %w", rcpt.emailErr)}
	}

	timeout := s.timeouts[ch]
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := adapter.Deliver(actx, rcpt.Recipient, msg)
	if err == nil {
		return nil
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &ChannelError{Channel: ch, Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
	}
	return &ChannelError{Channel: ch, Err: err}
}

type recipient struct {
	Recipient
	emailErr error
}

// resolveRecipient looks up only the addresses the plan needs.
func (s *Service) resolveRecipient(ctx context.Context, prefs domain.Preferences, channels []domain.Channel) recipient {
	r := recipient{Recipient: Recipient{UserID: prefs.UserID, WebhookURL: prefs.WebhookURL}}
	if s.directory != nil && slices.Contains(channels, domain.ChannelEmail) {
		email, err := s.directory.Email(ctx, prefs.UserID)
		r.Email = email
		r.emailErr = err
	}
	return r
}

func (s *Service) preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	if s.prefs == nil {
		return domain.DefaultPreferences(userID), nil
	}
	p, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return domain.Preferences{}, err
	}
	if p == nil {
		return domain.DefaultPreferences(userID), nil
	}
	out := *p
	out.UserID = userID
	return out, nil
}

func validateRequest(req SendRequest) error {
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return apperrors.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !req.Type.Valid() {
		return apperrors.Validationf("unknown notification type %q", req.Type)
	}
	if !req.Priority.Valid() {
		return apperrors.Validationf("unknown priority %q", req.Priority)
	}
	if err := domain.CheckPayload(req.Type, req.Data); err != nil {
		return apperrors.Validationf("%v", err)
	}
	for _, ch := range req.Channels {
		if !ch.Valid() {
			return apperrors.Validationf("unknown channel %q", ch)
		}
	}
	return nil
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
