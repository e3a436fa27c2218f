package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-distribution/internal/ar"
	"github.com/odyssey-erp/odyssey-distribution/internal/delivery"
	"github.com/odyssey-erp/odyssey-distribution/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/movement"
	"github.com/odyssey-erp/odyssey-distribution/internal/observability"
	"github.com/odyssey-erp/odyssey-distribution/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

type idempotencyStore interface {
	inventory.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Services is the wired domain layer shared by the API and the worker.
type Services struct {
	Inventory   *inventory.Service
	Engine      *movement.Engine
	Hierarchy   *hierarchy.Service
	AR          *ar.Service
	Orders      *orders.Service
	Delivery    *delivery.Service
	Idempotency idempotencyStore
}

type auditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type backend struct {
	positions   inventory.RepositoryPort
	workflows   movement.WorkflowStore
	owners      hierarchy.RepositoryPort
	receivables ar.RepositoryPort
	orders      orders.Repository
	notes       delivery.Repository
	approvals   shared.ApprovalPort
	idempotency idempotencyStore
	audit       auditRecorder
	locker      shared.Locker
}

// NewPostgresServices wires every service on PostgreSQL with Redis locks.
func NewPostgresServices(pool *pgxpool.Pool, rdb *redis.Client, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) *Services {
	var idem idempotencyStore = shared.NewIdempotencyStore(pool)
	if cfg.IdempotencyBackend == "redis" {
		idem = shared.NewRedisIdempotencyStore(rdb, cfg.IdempotencyRetention)
	}
	b := backend{
		positions:   inventory.NewRepository(pool),
		workflows:   movement.NewRepository(pool),
		owners:      hierarchy.NewRepository(pool),
		receivables: ar.NewRepository(pool),
		orders:      orders.NewRepository(pool),
		notes:       delivery.NewRepository(pool),
		approvals:   shared.NewApprovalRecorder(pool, logger),
		idempotency: idem,
		audit:       shared.NewAuditLogger(pool),
	}
	if rdb != nil {
		b.locker = shared.NewKeyLocker(rdb, cfg.LockTTL, logger)
	}
	return build(b, cfg, logger, metrics)
}

// NewMemoryServices wires every service on in-process repositories. Used in
// test mode and by handler tests.
func NewMemoryServices(cfg *Config, logger *slog.Logger, metrics *observability.Metrics) *Services {
	return build(backend{
		positions:   inventory.NewMemoryRepository(),
		workflows:   movement.NewMemoryStore(),
		owners:      hierarchy.NewMemoryRepository(),
		receivables: ar.NewMemoryRepository(),
		orders:      orders.NewMemoryRepository(),
		notes:       delivery.NewMemoryRepository(),
		approvals:   shared.NewMemoryApprovalRecorder(),
		idempotency: shared.NewMemoryIdempotencyStore(),
		audit:       shared.NewMemoryAuditLogger(),
	}, cfg, logger, metrics)
}

func build(b backend, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) *Services {
	if cfg == nil {
		cfg = &Config{InventoryDefaultPolicy: string(inventory.PolicyWeightedAverage)}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var audit inventory.AuditPort
	var arAudit ar.AuditPort
	if b.audit != nil {
		audit, arAudit = b.audit, b.audit
	}

	inv := inventory.NewService(b.positions, audit, b.idempotency, inventory.ServiceConfig{
		DefaultPolicy:       cfg.CostingPolicy(),
		DefaultReorderLevel: cfg.InventoryDefaultReorder,
	})

	var bundles movement.BundleResolver = movement.NoBundles{}
	if cfg.InventoryPlaceholderProduct != "" {
		bundles = movement.PlaceholderResolver{ProductID: cfg.InventoryPlaceholderProduct}
	}
	engine := movement.NewEngine(inv, b.workflows, bundles, logger.With(slog.String("component", "movement")))

	owners := hierarchy.NewService(b.owners, inv, hierarchy.Config{MaxDepth: cfg.HierarchyMaxDepth},
		logger.With(slog.String("component", "hierarchy")))

	receivables := ar.NewService(b.receivables, arAudit, b.approvals, logger.With(slog.String("component", "ar")))
	salesOrders := orders.NewService(b.orders, b.approvals, logger.With(slog.String("component", "orders")))
	notes := delivery.NewService(b.notes, salesOrders, engine, receivables, b.approvals,
		delivery.ServiceConfig{PaymentTerm: cfg.PaymentTerm}, logger.With(slog.String("component", "delivery")))

	if b.locker != nil {
		inv.SetLocker(b.locker)
		engine.SetLocker(b.locker)
		receivables.SetLocker(b.locker)
		notes.SetLocker(b.locker)
	}
	if metrics != nil {
		engine.SetRecorder(metrics)
		receivables.SetRecorder(metrics)
	}

	return &Services{
		Inventory:   inv,
		Engine:      engine,
		Hierarchy:   owners,
		AR:          receivables,
		Orders:      salesOrders,
		Delivery:    notes,
		Idempotency: b.idempotency,
	}
}
