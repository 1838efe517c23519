// Package infrastructure provides database and connection pool setup.
//
// One pgxpool is shared by River, the admin role directory, the user
// directory and the audit log.
//
// Import Path: cvesentinel.io/sentinel/internal/infrastructure
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/pkg/logger"
	"cvesentinel.io/sentinel/internal/repository/postgres"
)

// DatabaseClients contains the PostgreSQL clients.
//
// Coding Standard: Use this struct to manage connection pools.
// Do not open a second pool for River.
type DatabaseClients struct {
	// Pool is the shared connection pool.
	Pool *pgxpool.Pool

	// RiverClient is the River job queue client backed by the shared pool.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients creates database clients with shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// UTC on every connection so expires_at compares against the same clock.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)
	return &DatabaseClients{Pool: pool}, nil
}

// AutoMigrate applies the embedded schema and the River queue tables.
// Only use in development; production runs migrations out of band.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	logger.Info("Running schema migration...")
	if err := postgres.Migrate(ctx, c.Pool); err != nil {
		return fmt.Errorf("schema migrate: %w", err)
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. Called after NewDatabaseClients.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// Close closes the pool.
func (c *DatabaseClients) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
