package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/domain"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// RetryResult counts what one sweep did. Each record is counted once.
type RetryResult struct {
	Attempted   int `json:"attempted"`
	Delivered   int `json:"delivered"`
	StillFailed int `json:"stillFailed"`
}

// RetryFailedNotifications re-attempts failed channels below maxRetries.
// maxRetries <= 0 uses DefaultMaxRetries. Expired records and misconfigured
// channels are skipped. Each attempt is counted in the store before the
// adapter runs, so a store that rejects writes never causes deliveries past
// the cap. Any store failure stops the sweep and the counts so far are
// returned together with a DeliveryError.
func (s *Service) RetryFailedNotifications(ctx context.Context, maxRetries int) (RetryResult, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := s.now()
	var res RetryResult

	err := s.store.EachRetryable(ctx, maxRetries, now, func(n *domain.Notification) error {
		channels := n.RetryableChannels(maxRetries, now)
		if len(channels) == 0 {
			return nil
		}

		for _, ch := range channels {
			n.BeginAttempt(ch, now)
		}
		if err := s.store.UpdateDeliveries(ctx, n); err != nil {
			return fmt.Errorf("count retry attempt on %s: %w", n.ID, err)
		}
		res.Attempted++

		delivered := s.retryRecord(ctx, n, channels)
		if delivered {
			res.Delivered++
		} else {
			res.StillFailed++
		}

		if err := s.store.UpdateDeliveries(ctx, n); err != nil {
			return fmt.Errorf("record retry outcome on %s: %w", n.ID, err)
		}
		return nil
	})

	logger.Info("notification retry sweep finished",
		zap.Int("max_retries", maxRetries),
		zap.Int("attempted", res.Attempted),
		zap.Int("delivered", res.Delivered),
		zap.Int("still_failed", res.StillFailed),
		zap.Error(err),
	)

	if err != nil {
		return res, apperrors.Delivery(err, "retry sweep")
	}
	return res, nil
}

// retryRecord re-runs channels whose attempts are already counted on n and
// reports whether every one succeeded.
func (s *Service) retryRecord(ctx context.Context, n *domain.Notification, channels []domain.Channel) bool {
	prefs, err := s.preferences(ctx, n.UserID)
	if err != nil {
		logger.Warn("preferences unavailable for retry, using defaults",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		prefs = domain.DefaultPreferences(n.UserID)
	}

	rcpt := s.resolveRecipient(ctx, prefs, channels)
	msg := messageFor(n)

	ok := true
	for _, ch := range channels {
		err := s.attempt(ctx, ch, rcpt, msg)
		s.settle(n, ch, err)
		if err != nil {
			ok = false
		}
	}
	return ok
}
