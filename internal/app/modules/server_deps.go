package modules

import (
	"context"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/api/middleware"
	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/repository/mongodb"
)

// ServerDepsContributor is implemented by modules that contribute HTTP deps.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Hub:    infra.Hub,
		Pools:  infra.Pools,
		Checks: readinessChecks(infra),
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}

func readinessChecks(infra *Infrastructure) map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck, 3)
	if infra.Pool != nil {
		checks["postgres"] = infra.Pool.Ping
	}
	if infra.MongoDB != nil {
		checks["mongo"] = func(ctx context.Context) error { return mongodb.Ping(ctx, infra.MongoDB) }
	}
	if infra.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() }
	}
	return checks
}

// JWTConfig derives session verification settings. Sessions are issued by
// the auth provider, so only verification fields are set.
func JWTConfig(cfg config.SecurityConfig) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey: []byte(cfg.SessionSecret),
		Issuer:     cfg.JWTIssuer,
	}
}
