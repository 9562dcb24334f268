package domain

import (
	"fmt"
	"math"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew — заказ оформлен, товар списан со склада.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusPaid — оплата подтверждена.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ отгружен, дальнейших переходов нет.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled — заказ отменён, товар возвращён на склад.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:  {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid: {OrderStatusShipped, OrderStatusCancelled},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPaid, OrderStatusShipped, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal — из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusShipped || s == OrderStatusCancelled
}

// CanTransition проверяет допустимость перехода from -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	// ShippedQuantity не может превышать Quantity.
	ShippedQuantity int
	// PriceMinor — снимок цены на момент создания позиции, в копейках/центах.
	PriceMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AddQuantity складывает количества одного товара; переполнение int даёт ErrInvalidQuantity.
func AddQuantity(total, qty int) (int, error) {
	if qty > 0 && total > math.MaxInt-qty {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrInvalidQuantity, total, qty)
	}
	return total + qty, nil
}

// SubtotalMinor = цена * количество.
func (i OrderItem) SubtotalMinor() int64 {
	return i.PriceMinor * int64(i.Quantity)
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID int64
	// UID — внешний идентификатор, не зависящий от последовательности БД.
	UID             string
	CustomerID      int64
	Status          OrderStatus
	ShippingAddress string
	// PaymentReference заполняется при подтверждении оплаты.
	PaymentReference string
	// AttributionSource — имя или источник кампании, пусто без атрибуции.
	AttributionSource string
	// ConversionValueMinor — сумма конверсии, зафиксированная при создании заказа.
	ConversionValueMinor *int64
	Items                []OrderItem
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TotalMinor всегда пересчитывается по текущим позициям.
func (o *Order) TotalMinor() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.SubtotalMinor()
	}
	return total
}

// ItemsMutable — позиции можно менять только до отгрузки и отмены.
func (o *Order) ItemsMutable() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPaid
}

// HasShipments сообщает, ушла ли со склада хотя бы одна единица заказа.
func (o *Order) HasShipments() bool {
	for _, item := range o.Items {
		if item.ShippedQuantity > 0 {
			return true
		}
	}
	return false
}

// Item ищет позицию по идентификатору.
func (o *Order) Item(id int64) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// ProductIDs возвращает уникальные идентификаторы товаров позиций.
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
