// Package modules contains domain-oriented dependency modules for the
// composition root.
//
// Import Path: cvesentinel.io/sentinel/internal/app/modules
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"cvesentinel.io/sentinel/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// PeriodicJobContributor is implemented by modules that schedule River jobs.
type PeriodicJobContributor interface {
	PeriodicJobs() []*river.PeriodicJob
}

// CollectPeriodicJobs gathers the schedules of every contributing module.
func CollectPeriodicJobs(mods []Module) []*river.PeriodicJob {
	var out []*river.PeriodicJob
	for _, mod := range mods {
		if c, ok := mod.(PeriodicJobContributor); ok {
			out = append(out, c.PeriodicJobs()...)
		}
	}
	return out
}
