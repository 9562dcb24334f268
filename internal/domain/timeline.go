package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineOrderCreated   = "order.created"
	TimelineOrderPaid      = "order.paid"
	TimelineOrderShipped   = "order.shipped"
	TimelineOrderCancelled = "order.cancelled"
	TimelineItemAdded      = "order.item_added"
	TimelineItemChanged    = "order.item_changed"
	TimelineItemRemoved    = "order.item_removed"
	TimelineItemShipped    = "order.item_shipped"
)

// TimelineEvent — запись истории заказа. Status и TotalMinor фиксируют
// состояние заказа сразу после события, чтобы история показывала изменения суммы.
type TimelineEvent struct {
	OrderID    int64
	Type       string
	Reason     string
	Status     OrderStatus
	TotalMinor int64
	Occurred   time.Time
}

// NewTimelineEvent снимает статус и сумму с order.
func NewTimelineEvent(order *Order, eventType, reason string, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:    order.ID,
		Type:       eventType,
		Reason:     reason,
		Status:     order.Status,
		TotalMinor: order.TotalMinor(),
		Occurred:   at,
	}
}
