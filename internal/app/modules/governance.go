package modules

import (
	"context"

	"github.com/riverqueue/river"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/auth"
	"cvesentinel.io/sentinel/internal/repository/postgres"
)

// GovernanceModule owns the admin guard and the audit trail. Admin roles
// are read from the auth provider's Postgres tables.
type GovernanceModule struct {
	infra *Infrastructure
	guard *auth.Guard
}

func NewGovernanceModule(infra *Infrastructure) *GovernanceModule {
	return &GovernanceModule{
		infra: infra,
		guard: auth.NewGuard(postgres.NewAdminRoleStore(infra.Pool), nil),
	}
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Guard = m.guard
	deps.Audit = m.infra.AuditLogger
}

func (m *GovernanceModule) RegisterWorkers(_ *river.Workers) {}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
