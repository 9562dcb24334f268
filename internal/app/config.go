package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/storage/postgres"
)

const (
	// StorageDriverMemory — данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres — PostgreSQL через pgx.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresLockTimeout time.Duration
	// TxRetryAttempts — сколько раз выполнять транзакцию при конфликте блокировок.
	TxRetryAttempts int

	KafkaBrokers       []string
	KafkaGroupID       string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	Currency              string
	NotifyTimeout         time.Duration
	NotifyBreakerFailures int
	NotifyBreakerReset    time.Duration
	TikTok                attribution.TikTokConfig
	OTelEndpoint          string
	ServiceName           string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresLockTimeout: postgres.DefaultLockTimeout,
		TxRetryAttempts:     3,

		KafkaGroupID:       "eshop-payments",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		Currency:              "USD",
		NotifyTimeout:         attribution.DefaultNotifyTimeout,
		NotifyBreakerFailures: 5,
		NotifyBreakerReset:    time.Minute,
		ServiceName:           "eshop",
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	if _, err := currency.ParseISO(c.Currency); err != nil {
		errs = append(errs, fmt.Errorf("invalid currency %q: %w", c.Currency, err))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.TxRetryAttempts <= 0 {
		errs = append(errs, errors.New("tx retry attempts must be positive"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("notify timeout must be positive"))
	}
	return errors.Join(errs...)
}

// CurrencyCode нормализует код валюты (usd -> USD).
func (c Config) CurrencyCode() string {
	unit, err := currency.ParseISO(c.Currency)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(c.Currency))
	}
	return unit.String()
}
