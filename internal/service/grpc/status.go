package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
)

// toStatus переводит доменную ошибку в gRPC-статус.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFor(err), messageFor(err))
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, domain.ErrProductNotFound), domain.IsNotFound(err):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderImmutable):
		return codes.FailedPrecondition
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrSKUConflict),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return codes.AlreadyExists
	case domain.IsRetryable(err), errors.Is(err, idempotency.ErrInProgress):
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// messageFor скрывает текст внутренних ошибок от клиента.
func messageFor(err error) string {
	if codeFor(err) == codes.Internal {
		return "internal error"
	}
	return err.Error()
}
