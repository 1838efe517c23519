package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// defaultStopTimeout bounds Shutdown when no server config is loaded.
const defaultStopTimeout = 15 * time.Second

// Start brings up the push relay and then the retry sweep workers, so a
// delivery retried right after boot can already reach streams on other
// instances.
func (a *Application) Start(ctx context.Context) error {
	if a.infra != nil {
		if err := a.infra.StartBackground(); err != nil {
			return fmt.Errorf("start push relay: %w", err)
		}
	}
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("retry sweep workers started")
	}
	return nil
}

// Shutdown stops the retry sweeps first, then lets in-flight deliveries and
// ingested events drain from the worker pools before storage is closed.
func (a *Application) Shutdown() {
	timeout := defaultStopTimeout
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		timeout = a.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(ctx); err != nil {
			logger.Error("failed to stop retry sweep workers", zap.Error(err))
		} else {
			logger.Info("retry sweep workers stopped")
		}
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		logger.Info("draining worker pools", zap.Any("workers", a.Pools.Metrics()))
	}
	switch {
	case a.infra != nil:
		// Owns the pools, the relay client and both databases.
		a.infra.Close()
	default:
		if a.Pools != nil {
			a.Pools.Shutdown()
		}
		if a.DB != nil {
			a.DB.Close()
		}
	}
}
