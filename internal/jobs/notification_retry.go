package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// DefaultRetryInterval is how often the retry sweep runs.
const DefaultRetryInterval = 15 * time.Minute

// Retrier runs one retry sweep.
type Retrier interface {
	RetryFailedNotifications(ctx context.Context, maxRetries int) (notification.RetryResult, error)
}

// NotificationRetryArgs triggers a retry sweep over failed deliveries.
type NotificationRetryArgs struct {
	MaxRetries int `json:"max_retries,omitempty"`
}

// Kind returns the job kind identifier for the retry sweep.
func (NotificationRetryArgs) Kind() string { return "notification_retry" }

// InsertOpts keeps sweeps from piling up when one runs long.
func (NotificationRetryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: DefaultRetryInterval,
			ByQueue:  true,
		},
	}
}

// NotificationRetryWorker re-attempts failed channels up to the cap.
type NotificationRetryWorker struct {
	river.WorkerDefaults[NotificationRetryArgs]
	retrier    Retrier
	maxRetries int
}

// NewNotificationRetryWorker creates the sweep worker. maxRetries is used
// when the job itself carries no cap.
func NewNotificationRetryWorker(retrier Retrier, maxRetries int) *NotificationRetryWorker {
	return &NotificationRetryWorker{retrier: retrier, maxRetries: maxRetries}
}

// Work runs the sweep. A failed sweep is not retried by River; the next
// period picks the records up again.
func (w *NotificationRetryWorker) Work(ctx context.Context, job *river.Job[NotificationRetryArgs]) error {
	if w == nil || w.retrier == nil {
		return fmt.Errorf("notification retry worker is not initialized")
	}

	maxRetries := w.maxRetries
	if job != nil && job.Args.MaxRetries > 0 {
		maxRetries = job.Args.MaxRetries
	}

	res, err := w.retrier.RetryFailedNotifications(ctx, maxRetries)
	if err != nil {
		logger.Warn("notification retry sweep incomplete",
			zap.Int("attempted", res.Attempted),
			zap.Int("delivered", res.Delivered),
			zap.Int("still_failed", res.StillFailed),
			zap.Error(err),
		)
		return err
	}
	return nil
}
