package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Топики магазина.
const (
	TopicOrderEvents = "eshop.order.events"
	// TopicOrderEventsDLQ принимает события, которые не удалось доставить или обработать.
	TopicOrderEventsDLQ   = "eshop.order.events.dlq"
	TopicPaymentEvents    = "eshop.payment.events"
	TopicPaymentEventsDLQ = "eshop.payment.events.dlq"
)

// Заголовки для retry и DLQ.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// PaymentEventConfirmed — платёжный провайдер подтвердил оплату заказа.
const PaymentEventConfirmed = "payment.confirmed"

// Envelope — обёртка события заказа, в которой оно уходит в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentEvent приходит из платёжного контура.
type PaymentEvent struct {
	EventType string    `json:"event_type"`
	OrderUID  string    `json:"order_uid"`
	Reference string    `json:"reference"`
	PaidAt    time.Time `json:"paid_at"`
}

// Validate проверяет обязательные поля.
func (e PaymentEvent) Validate() error {
	if strings.TrimSpace(e.OrderUID) == "" {
		return fmt.Errorf("payment event: order_uid is required")
	}
	if strings.TrimSpace(e.Reference) == "" {
		return fmt.Errorf("payment event: reference is required")
	}
	return nil
}

// ParseEnvelope разбирает событие заказа из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal order envelope: %w", err)
	}
	return env, nil
}

// ParsePaymentEvent разбирает событие оплаты из сообщения.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return PaymentEvent{}, fmt.Errorf("failed to unmarshal payment event: %w", err)
	}
	return event, nil
}
