package domain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

func TestOrderTotalMinor(t *testing.T) {
	order := domain.Order{
		Status: domain.OrderStatusNew,
		Items: []domain.OrderItem{
			{ID: 1, ProductID: 1, Quantity: 2, PriceMinor: 1000},
			{ID: 2, ProductID: 2, Quantity: 3, PriceMinor: 550},
		},
	}

	if got := order.TotalMinor(); got != 3650 {
		t.Fatalf("total = %d, want 3650", got)
	}
	if got := domain.FormatMinor(order.TotalMinor()); got != "36.50" {
		t.Fatalf("formatted total = %q, want 36.50", got)
	}

	// Итог пересчитывается после изменения позиций.
	order.Items = order.Items[:1]
	if got := order.TotalMinor(); got != 2000 {
		t.Fatalf("total after removal = %d, want 2000", got)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusNew, domain.OrderStatusPaid, true},
		{domain.OrderStatusNew, domain.OrderStatusCancelled, true},
		{domain.OrderStatusNew, domain.OrderStatusShipped, false},
		{domain.OrderStatusPaid, domain.OrderStatusShipped, true},
		{domain.OrderStatusPaid, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPaid, domain.OrderStatusNew, false},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusNew, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPaid, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Fatalf("CanTransition = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrderStatusValidAndTerminal(t *testing.T) {
	if domain.OrderStatus("pending").Valid() {
		t.Fatal("unexpected valid status")
	}
	if !domain.OrderStatusShipped.Terminal() || !domain.OrderStatusCancelled.Terminal() {
		t.Fatal("shipped and cancelled must be terminal")
	}
	if domain.OrderStatusPaid.Terminal() {
		t.Fatal("paid is not terminal")
	}
}

func TestOrderItemsMutable(t *testing.T) {
	order := domain.Order{Status: domain.OrderStatusPaid}
	if !order.ItemsMutable() {
		t.Fatal("paid order items must be mutable")
	}
	order.Status = domain.OrderStatusShipped
	if order.ItemsMutable() {
		t.Fatal("shipped order items must be frozen")
	}
}

func TestAddQuantity(t *testing.T) {
	sum, err := domain.AddQuantity(2, 3)
	if err != nil || sum != 5 {
		t.Fatalf("AddQuantity(2, 3) = %d, %v", sum, err)
	}
	if _, err := domain.AddQuantity(math.MaxInt-1, 2); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity on overflow, got %v", err)
	}
}

func TestOrderHasShipments(t *testing.T) {
	order := domain.Order{Items: []domain.OrderItem{{ID: 1, Quantity: 3}, {ID: 2, Quantity: 2}}}
	if order.HasShipments() {
		t.Fatal("fresh order has no shipments")
	}
	order.Items[1].ShippedQuantity = 1
	if !order.HasShipments() {
		t.Fatal("partially shipped order must report shipments")
	}
}

func TestOrderItemLookup(t *testing.T) {
	order := domain.Order{Items: []domain.OrderItem{{ID: 5, ProductID: 9}}}
	item, ok := order.Item(5)
	if !ok || item.ProductID != 9 {
		t.Fatalf("expected item 5, got %+v ok=%v", item, ok)
	}
	if _, ok := order.Item(6); ok {
		t.Fatal("unexpected item 6")
	}
}
