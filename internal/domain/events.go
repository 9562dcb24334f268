package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AggregateOrder — тип агрегата для событий заказа в outbox.
const AggregateOrder = "order"

// Типы событий заказа, публикуемые через outbox.
const (
	EventOrderCreated     = "order.created"
	EventOrderPaid        = "order.paid"
	EventOrderShipped     = "order.shipped"
	EventOrderCancelled   = "order.cancelled"
	EventOrderItemChanged = "order.item_changed"
)

// OrderEventItem — позиция в теле события.
type OrderEventItem struct {
	ItemID          int64 `json:"item_id"`
	ProductID       int64 `json:"product_id"`
	Quantity        int   `json:"quantity"`
	ShippedQuantity int   `json:"shipped_quantity"`
	PriceMinor      int64 `json:"price_minor"`
}

// OrderEvent — тело события заказа.
type OrderEvent struct {
	EventType         string            `json:"event_type"`
	OrderUID          string            `json:"order_uid"`
	CustomerID        int64             `json:"customer_id"`
	Status            string            `json:"status"`
	TotalMinor        int64             `json:"total_minor"`
	AttributionSource string            `json:"attribution_source,omitempty"`
	Items             []OrderEventItem  `json:"items"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// NewOrderEvent снимает состояние заказа в событие.
func NewOrderEvent(eventType string, order Order, metadata map[string]string, at time.Time) OrderEvent {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			ItemID:          item.ID,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			ShippedQuantity: item.ShippedQuantity,
			PriceMinor:      item.PriceMinor,
		})
	}
	return OrderEvent{
		EventType:         eventType,
		OrderUID:          order.UID,
		CustomerID:        order.CustomerID,
		Status:            string(order.Status),
		TotalMinor:        order.TotalMinor(),
		AttributionSource: order.AttributionSource,
		Items:             items,
		Metadata:          metadata,
		OccurredAt:        at,
	}
}

// OutboxMessage упаковывает событие для outbox.
func (e OrderEvent) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", e.EventType, err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   e.OrderUID,
		EventType:     e.EventType,
		Payload:       payload,
		CreatedAt:     e.OccurredAt,
	}, nil
}

// ItemMetadata — стандартные метаданные события об изменении позиции.
func ItemMetadata(op string, itemID int64) map[string]string {
	return map[string]string{
		"operation": op,
		"item_id":   strconv.FormatInt(itemID, 10),
	}
}
