// Package procurement wires purchase approval routing: threshold
// configuration, order approvals and conditional order deadlines.
package procurement

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/retifica-erp/retifica/internal/procurement/approvals"
	"github.com/retifica-erp/retifica/internal/procurement/conditional"
	"github.com/retifica-erp/retifica/internal/procurement/thresholds"
	"github.com/retifica-erp/retifica/internal/rbac"
)

// Deps groups the collaborators of the module.
type Deps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	CacheTTL time.Duration
	Logger   *slog.Logger
	RBAC     rbac.Middleware

	Identity            approvals.IdentityPort
	ApprovalNotifier    approvals.Notifier
	Workflow            approvals.WorkflowAdvancer
	ConditionalNotifier conditional.Notifier
	Observer            approvals.Observer
}

// Module holds the procurement services and their HTTP handlers.
type Module struct {
	Thresholds  *thresholds.Service
	Resolver    *thresholds.Resolver
	Approvals   *approvals.Service
	Conditional *conditional.Service

	thresholdHandler   *thresholds.Handler
	approvalHandler    *approvals.Handler
	conditionalHandler *conditional.Handler
}

// NewModule builds the PostgreSQL backed services.
func NewModule(d Deps) *Module {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var cache *thresholds.SnapshotCache
	if d.Redis != nil {
		cache = thresholds.NewSnapshotCache(d.Redis, d.CacheTTL)
	}
	thresholdRepo := thresholds.NewRepository(d.Pool)
	resolver := thresholds.NewResolver(thresholdRepo, cache)

	m := &Module{
		Thresholds:  thresholds.NewService(thresholdRepo, cache, logger.With(slog.String("component", "thresholds"))),
		Resolver:    resolver,
		Approvals:   approvals.NewService(approvals.NewRepository(d.Pool), resolver, d.Identity, d.ApprovalNotifier, d.Workflow, logger.With(slog.String("component", "approvals"))),
		Conditional: conditional.NewService(conditional.NewRepository(d.Pool), d.ConditionalNotifier, logger.With(slog.String("component", "conditional"))),
	}
	if d.Observer != nil {
		m.Approvals.SetObserver(d.Observer)
	}
	m.thresholdHandler = thresholds.NewHandler(logger, m.Thresholds, resolver, d.RBAC)
	m.approvalHandler = approvals.NewHandler(logger, m.Approvals, d.RBAC)
	m.conditionalHandler = conditional.NewHandler(logger, m.Conditional, d.RBAC)
	return m
}

// MountRoutes registers all procurement routes.
func (m *Module) MountRoutes(r chi.Router) {
	r.Route("/thresholds", m.thresholdHandler.MountRoutes)
	r.Route("/orders", m.approvalHandler.MountRoutes)
	r.Route("/conditional", m.conditionalHandler.MountRoutes)
}
