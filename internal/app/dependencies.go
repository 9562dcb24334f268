package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/service/orders"
	"github.com/vladislavdragonenkov/eshop/internal/service/resilience"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/eshop/internal/storage/postgres"
)

// Store — транзакционное хранилище с проверкой доступности.
type Store interface {
	domain.TxManager
	Ping(ctx context.Context) error
	Close() error
}

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Store Store
	// Tx повторяет транзакции Store при конфликтах блокировок.
	Tx              domain.TxManager
	OutboxRepo      domain.OutboxRepository
	TimelineRepo    domain.TimelineRepository
	IdempotencyRepo domain.IdempotencyRepository

	Metrics    *metrics.OrderMetrics
	Linker     *attribution.Linker
	Dispatcher *attribution.Dispatcher
	Checkout   *checkout.Orchestrator
	Orders     *orders.Service
	Catalog    *catalog.Service
	Guard      *idempotency.Guard

	Logger *log.Entry
}

// NewDependencies открывает хранилище и собирает сервисы поверх него.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger, Metrics: metrics.NewOrderMetrics()}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLockTimeout(cfg.PostgresLockTimeout),
			postgres.WithLogger(logger.WithField("component", "postgres")))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.Store = store
		deps.OutboxRepo = postgres.NewOutboxRepository(store)
		deps.TimelineRepo = postgres.NewTimelineRepository(store)
		deps.IdempotencyRepo = postgres.NewIdempotencyRepository(store)
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.Store = store
		deps.OutboxRepo = store.Outbox()
		deps.TimelineRepo = store.Timeline()
		deps.IdempotencyRepo = memory.NewIdempotencyRepository()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	logger.WithField("storage", cfg.StorageDriver).Info("storage initialized")

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.TxRetryAttempts
	deps.Tx = resilience.NewRetryingTx(deps.Store, retry, logger.WithField("component", "tx-retry"))

	ledger := inventory.NewLedger(logger.WithField("component", "inventory"), deps.Metrics)
	lifecycle := orderitem.NewLifecycle(ledger, logger.WithField("component", "orderitem"), deps.Metrics)
	deps.Linker = attribution.NewLinker(logger.WithField("component", "attribution"))
	// Без pixel code уведомления выключены целиком.
	var notifier domain.ConversionNotifier
	if strings.TrimSpace(cfg.TikTok.PixelCode) != "" {
		breaker := resilience.NewCircuitBreaker(cfg.NotifyBreakerFailures, cfg.NotifyBreakerReset,
			logger.WithField("component", "tiktok-breaker"))
		notifier = resilience.NewBreakerNotifier(attribution.NewTikTokNotifier(cfg.TikTok), breaker)
	}
	deps.Dispatcher = attribution.NewDispatcher(
		notifier,
		cfg.CurrencyCode(),
		attribution.WithTimeout(cfg.NotifyTimeout),
		attribution.WithLogger(logger.WithField("component", "conversion-dispatcher")),
		attribution.WithMetrics(deps.Metrics),
	)
	deps.Checkout = checkout.NewOrchestrator(deps.Tx, ledger, lifecycle, deps.Linker,
		checkout.WithDispatcher(deps.Dispatcher),
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(deps.Metrics),
	)
	deps.Orders = orders.NewService(deps.Tx, lifecycle, deps.TimelineRepo, logger.WithField("component", "orders"), deps.Metrics)
	deps.Catalog = catalog.NewService(deps.Tx, ledger, logger.WithField("component", "catalog"))
	deps.Guard = idempotency.NewGuard(deps.IdempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency")))
	return deps, nil
}

// Close останавливает уведомления и закрывает хранилище.
func (d *Dependencies) Close(ctx context.Context) {
	if d == nil {
		return
	}
	if err := d.Dispatcher.Shutdown(ctx); err != nil {
		d.Logger.WithError(err).Warn("conversion dispatcher shutdown timed out")
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close storage")
		}
	}
}
