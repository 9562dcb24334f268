package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/app"
	"github.com/vladislavdragonenkov/eshop/internal/version"
)

const (
	envLogLevel                    = "ESHOP_LOG_LEVEL"
	envGRPCAddr                    = "ESHOP_GRPC_ADDR"
	envHTTPAddr                    = "ESHOP_HTTP_ADDR"
	envMetricsAddr                 = "ESHOP_METRICS_ADDR"
	envStorageDriver               = "ESHOP_STORAGE_DRIVER"
	envPostgresDSN                 = "ESHOP_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ESHOP_POSTGRES_AUTO_MIGRATE"
	envPostgresLockTimeout         = "ESHOP_POSTGRES_LOCK_TIMEOUT"
	envTxRetryAttempts             = "ESHOP_TX_RETRY_ATTEMPTS"
	envKafkaBrokers                = "ESHOP_KAFKA_BROKERS"
	envKafkaGroupID                = "ESHOP_KAFKA_GROUP_ID"
	envOutboxPollInterval          = "ESHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ESHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ESHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ESHOP_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "ESHOP_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ESHOP_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ESHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envCurrency                    = "ESHOP_CURRENCY"
	envNotifyTimeout               = "ESHOP_NOTIFY_TIMEOUT"
	envNotifyBreakerFailures       = "ESHOP_NOTIFY_BREAKER_FAILURES"
	envNotifyBreakerReset          = "ESHOP_NOTIFY_BREAKER_RESET"
	envTikTokPixelCode             = "ESHOP_TIKTOK_PIXEL_CODE"
	envTikTokAccessToken           = "ESHOP_TIKTOK_ACCESS_TOKEN"
	envTikTokEndpoint              = "ESHOP_TIKTOK_ENDPOINT"
	envOTelEndpoint                = "ESHOP_OTEL_ENDPOINT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", envLogLevel, err)
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	duration(envPostgresLockTimeout, &cfg.PostgresLockTimeout, nonNegative, "must be >= 0")
	positiveInt(envTxRetryAttempts, &cfg.TxRetryAttempts)

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = app.ParseBrokers(v)
	}
	str(envKafkaGroupID, &cfg.KafkaGroupID)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	str(envCurrency, &cfg.Currency)
	duration(envNotifyTimeout, &cfg.NotifyTimeout, positive, "must be > 0")
	positiveInt(envNotifyBreakerFailures, &cfg.NotifyBreakerFailures)
	duration(envNotifyBreakerReset, &cfg.NotifyBreakerReset, positive, "must be > 0")
	str(envTikTokPixelCode, &cfg.TikTok.PixelCode)
	str(envTikTokAccessToken, &cfg.TikTok.AccessToken)
	str(envTikTokEndpoint, &cfg.TikTok.Endpoint)
	str(envOTelEndpoint, &cfg.OTelEndpoint)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Warn("некорректный уровень логирования, используем info")
	}
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"grpc_addr":    cfg.GRPCAddr,
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        len(cfg.KafkaBrokers) > 0,
	}).Info("запускаем eshop")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("eshop остановлен")
}
