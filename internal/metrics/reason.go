package metrics

import (
	"errors"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// ReasonFor сводит доменную ошибку к значению label reason.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderImmutable):
		return ReasonInvalidTransition
	case domain.IsRetryable(err):
		return ReasonConflict
	case domain.IsValidation(err):
		return ReasonValidation
	case domain.IsNotFound(err):
		return ReasonNotFound
	default:
		return ReasonInternal
	}
}
