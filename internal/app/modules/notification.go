package modules

import (
	"context"
	"net/http"
	"time"

	"github.com/riverqueue/river"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/jobs"
	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/notification/channel"
	"cvesentinel.io/sentinel/internal/repository/mongodb"
	"cvesentinel.io/sentinel/internal/repository/postgres"
)

// NotificationModule wires the delivery pipeline: stores, channels, the
// service, triggers and the maintenance workers.
type NotificationModule struct {
	cfg        config.NotificationConfig
	store      *mongodb.NotificationStore
	service    *notification.Service
	triggers   *notification.Triggers
	dispatcher *domain.EventDispatcher
}

// NewNotificationModule creates the module with explicit constructor wiring.
func NewNotificationModule(infra *Infrastructure) *NotificationModule {
	cfg := infra.Config.Notification
	store := mongodb.NewNotificationStore(infra.MongoDB)

	svc := notification.NewService(
		store,
		mongodb.NewPreferencesStore(infra.MongoDB),
		postgres.NewUserDirectory(infra.Pool),
		notification.Options{
			Channels:    deliveryChannels(infra),
			Timeouts:    channelTimeouts(cfg),
			Pool:        infra.Pools.Delivery,
			MaxRetries:  cfg.MaxRetries,
			StatsWindow: cfg.StatsWindow,
		},
	)
	triggers := notification.NewTriggers(svc, mongodb.NewAlertRuleStore(infra.MongoDB), infra.Pools.Delivery)

	dispatcher := domain.NewEventDispatcher()
	triggers.Register(dispatcher)

	return &NotificationModule{
		cfg:        cfg,
		store:      store,
		service:    svc,
		triggers:   triggers,
		dispatcher: dispatcher,
	}
}

func deliveryChannels(infra *Infrastructure) []notification.Channel {
	return []notification.Channel{
		channel.NewPush(infra.Push),
		channel.NewEmail(infra.Config.SMTP),
		channel.NewWebhook(&http.Client{}),
	}
}

func channelTimeouts(cfg config.NotificationConfig) map[domain.Channel]time.Duration {
	return map[domain.Channel]time.Duration{
		domain.ChannelPush:    cfg.PushTimeout,
		domain.ChannelEmail:   cfg.EmailTimeout,
		domain.ChannelWebhook: cfg.WebhookTimeout,
	}
}

func (m *NotificationModule) Name() string { return "notification" }

// Dispatcher routes in-process domain events to the triggers.
func (m *NotificationModule) Dispatcher() *domain.EventDispatcher { return m.dispatcher }

func (m *NotificationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Notifications = m.service
	deps.Triggers = m.triggers
	deps.Events = m.dispatcher
}

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	jobs.Register(workers, jobs.Deps{
		Retrier:    m.service,
		Cleaner:    m.store,
		MaxRetries: m.cfg.MaxRetries,
		Retention:  m.cfg.Retention,
	})
}

func (m *NotificationModule) PeriodicJobs() []*river.PeriodicJob {
	return jobs.PeriodicJobs(m.cfg.RetryInterval)
}

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
