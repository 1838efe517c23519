// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/app/modules"
	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/infrastructure"
	"cvesentinel.io/sentinel/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module
	// Events accepts in-process domain events (vulnerability published,
	// comment replied, ...) and routes them to the notification triggers.
	Events *domain.EventDispatcher

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	notifications := modules.NewNotificationModule(infra)
	governance := modules.NewGovernanceModule(infra)
	allModules := []modules.Module{
		notifications,
		governance,
		modules.NewCatalogModule(infra),
	}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.DB.InitRiverClient(workers, modules.CollectPeriodicJobs(allModules), cfg.River); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, modules.JWTConfig(cfg.Security), serverDeps.Guard),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
		Events:  notifications.Dispatcher(),
		infra:   infra,
	}, nil
}
