package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestStockErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("create item: %w", NewStockError(7, 3, 1))

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *StockError in chain")
	}
	if stockErr.ProductID != 7 || stockErr.Requested != 3 || stockErr.Available != 1 {
		t.Fatalf("unexpected details: %+v", stockErr)
	}
	want := "insufficient stock for product 7 (requested 3, available 1)"
	if stockErr.Error() != want {
		t.Fatalf("message = %q, want %q", stockErr.Error(), want)
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "product not found", err: ProductNotFound(3), want: true},
		{name: "invalid quantity", err: fmt.Errorf("wrap: %w", ErrInvalidQuantity), want: true},
		{name: "missing field", err: MissingField("phone"), want: true},
		{name: "insufficient stock", err: NewStockError(1, 2, 1), want: false},
		{name: "transition", err: ErrInvalidTransition, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.Join(ErrConcurrencyConflict, errors.New("40001"))) {
		t.Fatal("expected joined conflict to be retryable")
	}
	if IsRetryable(ErrInsufficientStock) {
		t.Fatal("insufficient stock must not be retryable")
	}
}

func TestIsNotFound(t *testing.T) {
	for _, err := range []error{ErrOrderNotFound, ErrOrderItemNotFound, ErrCampaignNotFound} {
		if !IsNotFound(fmt.Errorf("ctx: %w", err)) {
			t.Fatalf("expected %v to be not found", err)
		}
	}
	if IsNotFound(ErrProductNotFound) {
		t.Fatal("product not found is a validation error")
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{name: "non idempotency error", err: ErrConcurrencyConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
