package modules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/governance/audit"
	"cvesentinel.io/sentinel/internal/infrastructure"
	"cvesentinel.io/sentinel/internal/pkg/logger"
	"cvesentinel.io/sentinel/internal/pkg/worker"
	"cvesentinel.io/sentinel/internal/pushhub"
	"cvesentinel.io/sentinel/internal/repository/mongodb"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pool        *pgxpool.Pool
	Mongo       *mongo.Client
	MongoDB     *mongo.Database
	Redis       *redis.Client
	Pools       *worker.Pools
	AuditLogger *audit.Logger

	// Hub serves live SSE streams on this instance.
	Hub *pushhub.Hub
	// Push is where the push channel sends: the Redis bridge when Redis is
	// configured, the local hub otherwise.
	Push   pushhub.Sender
	bridge *pushhub.Bridge
}

// NewInfrastructure connects Postgres, MongoDB and Redis and builds the
// worker pools. Every partially opened resource is released on error.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (_ *Infrastructure, err error) {
	infra := &Infrastructure{Config: cfg, Hub: pushhub.NewHub()}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	infra.DB, err = infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	infra.Pool = infra.DB.Pool

	// Dev-mode: apply the schema and the River queue tables.
	if cfg.Database.AutoMigrate {
		if err = infra.DB.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	infra.Mongo, infra.MongoDB, err = mongodb.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("init mongo: %w", err)
	}
	if cfg.Mongo.EnsureIndexes {
		if err = mongodb.EnsureIndexes(ctx, infra.MongoDB); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
	}

	infra.Redis, err = infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	infra.Push = infra.Hub
	if infra.Redis != nil {
		infra.bridge = pushhub.NewBridge(infra.Redis, cfg.Redis.Channel, infra.Hub)
		infra.Push = infra.bridge
	}

	infra.Pools, err = worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		DeliveryPoolSize: cfg.Worker.DeliveryPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	infra.AuditLogger = audit.NewLogger(infra.Pool)
	return infra, nil
}

// StartBackground launches the Redis push relay on the general pool.
func (i *Infrastructure) StartBackground() error {
	if i == nil || i.bridge == nil {
		return nil
	}
	return i.Pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		if err := i.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("push bridge stopped", zap.Error(err))
		}
	})
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if i.Mongo != nil {
		if err := i.Mongo.Disconnect(context.Background()); err != nil {
			logger.Warn("failed to disconnect mongo", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
