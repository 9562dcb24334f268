// Package resilience содержит повтор транзакций при конфликтах блокировок
// и circuit breaker для внешних вызовов.
package resilience

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// RetryConfig конфигурация повторов.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryingTx повторяет транзакцию целиком, если она упала на domain.ErrConcurrencyConflict.
// Бизнес-ошибки (нехватка остатка, валидация) возвращаются сразу.
type RetryingTx struct {
	next   domain.TxManager
	config RetryConfig
	logger *log.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingTx оборачивает TxManager повторами.
func NewRetryingTx(next domain.TxManager, config RetryConfig, logger *log.Entry) *RetryingTx {
	if logger == nil {
		logger = log.WithField("component", "tx-retry")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &RetryingTx{
		next:   next,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// WithinTx реализует domain.TxManager.
func (r *RetryingTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	delay := r.config.InitialDelay
	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err = r.next.WithinTx(ctx, fn)
		if err == nil {
			if attempt > 1 {
				r.logger.WithField("attempt", attempt).Info("transaction succeeded after retry")
			}
			return nil
		}
		if !domain.IsRetryable(err) || attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("transaction conflict, retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.TxManager = (*RetryingTx)(nil)
