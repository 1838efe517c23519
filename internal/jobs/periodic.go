// Package jobs defines River Queue job types for background maintenance.
//
// Import Path: cvesentinel.io/sentinel/internal/jobs
package jobs

import (
	"time"

	"github.com/riverqueue/river"
)

// Deps carries what the workers need.
type Deps struct {
	Retrier    Retrier
	Cleaner    ReadCleaner
	MaxRetries int
	Retention  time.Duration
}

// Register adds every worker to workers.
func Register(workers *river.Workers, d Deps) {
	river.AddWorker(workers, NewNotificationRetryWorker(d.Retrier, d.MaxRetries))
	river.AddWorker(workers, NewNotificationCleanupWorker(d.Cleaner, d.Retention))
}

// PeriodicJobs schedules the retry sweep and the daily cleanup.
func PeriodicJobs(retryInterval time.Duration) []*river.PeriodicJob {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(retryInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return NotificationRetryArgs{}, nil
			},
			nil,
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return NotificationCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
