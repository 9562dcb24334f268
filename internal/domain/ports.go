package domain

import (
	"context"
	"time"
)

// PurchaseEvent — данные о покупке для внешней системы атрибуции.
type PurchaseEvent struct {
	EventName  string
	OrderUID   string
	ValueMinor int64
	Currency   string
	OccurredAt time.Time
}

// ConversionNotifier сообщает внешней системе атрибуции о покупке.
// Вызывается вне транзакции; ошибки не влияют на заказ.
type ConversionNotifier interface {
	NotifyPurchase(ctx context.Context, event PurchaseEvent) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// FailedCount — события, ушедшие в DLQ после всех попыток.
	FailedCount int
}
