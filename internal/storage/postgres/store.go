package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	// DefaultLockTimeout ограничивает ожидание блокировки строки внутри транзакции.
	DefaultLockTimeout = 3 * time.Second

	opTimeout = 5 * time.Second
)

// Store оборачивает SQL-подключение к PostgreSQL и реализует domain.TxManager.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *log.Entry
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout задаёт lock_timeout для транзакций; 0 отключает ограничение.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{
		db:          db,
		lockTimeout: DefaultLockTimeout,
		logger:      log.WithField("component", "postgres"),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Согласованность остатков
// обеспечивают SELECT ... FOR UPDATE и условный UPDATE, а не уровень изоляции.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if s.lockTimeout > 0 {
		// SET не принимает параметры, значение формируется из time.Duration.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err = sqlTx.ExecContext(ctx, stmt); err != nil {
			return mapError(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pgTx отдаёт репозитории, работающие поверх одной *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Products() domain.ProductRepository       { return productRepository{tx: t.tx} }
func (t *pgTx) Customers() domain.CustomerRepository     { return customerRepository{tx: t.tx} }
func (t *pgTx) Orders() domain.OrderRepository           { return orderRepository{tx: t.tx} }
func (t *pgTx) Items() domain.OrderItemRepository        { return orderItemRepository{tx: t.tx} }
func (t *pgTx) Campaigns() domain.CampaignRepository     { return campaignRepository{tx: t.tx} }
func (t *pgTx) Conversions() domain.ConversionRepository { return conversionRepository{tx: t.tx} }
func (t *pgTx) Outbox() domain.OutboxWriter              { return outboxWriter{q: t.tx} }
func (t *pgTx) Timeline() domain.TimelineWriter          { return timelineWriter{q: t.tx} }

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ domain.TxManager = (*Store)(nil)
