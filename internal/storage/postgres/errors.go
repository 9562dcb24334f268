package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// SQLSTATE, которые обрабатываются особо.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == sqlStateUniqueViolation
}

// mapError переводит ошибки блокировок и сериализации в ErrConcurrencyConflict.
// Исходная ошибка остаётся в цепочке для логов.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
	case sqlStateCheckViolation:
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInvalidQuantity) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrInvalidQuantity, err)
	default:
		return err
	}
}
