package modules

import (
	"context"

	"github.com/riverqueue/river"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/repository/mongodb"
	"cvesentinel.io/sentinel/internal/vuln"
)

// CatalogModule serves the vulnerability catalog from MongoDB.
type CatalogModule struct {
	catalog *vuln.Catalog
}

func NewCatalogModule(infra *Infrastructure) *CatalogModule {
	return &CatalogModule{catalog: vuln.NewCatalog(mongodb.NewVulnerabilityStore(infra.MongoDB))}
}

func (m *CatalogModule) Name() string { return "catalog" }

func (m *CatalogModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Catalog = m.catalog
}

func (m *CatalogModule) RegisterWorkers(_ *river.Workers) {}

func (m *CatalogModule) Shutdown(context.Context) error { return nil }
