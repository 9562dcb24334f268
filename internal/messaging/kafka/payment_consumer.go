package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// PaymentMarker переводит заказ в paid.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, uid, paymentReference string) (domain.Order, error)
}

// NewPaymentHandler разбирает события оплаты и подтверждает заказы.
// Повторное событие с той же ссылкой на платёж ничего не меняет.
func NewPaymentHandler(orders PaymentMarker, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParsePaymentEvent(message)
		if err != nil {
			return Permanent(err)
		}
		if event.EventType != PaymentEventConfirmed {
			logger.WithField("event_type", event.EventType).Debug("payment event skipped")
			return nil
		}
		if err := event.Validate(); err != nil {
			return Permanent(err)
		}

		order, err := orders.MarkPaid(ctx, event.OrderUID, event.Reference)
		if err != nil {
			if domain.IsRetryable(err) {
				return fmt.Errorf("mark order %s paid: %w", event.OrderUID, err)
			}
			return Permanent(fmt.Errorf("mark order %s paid: %w", event.OrderUID, err))
		}

		logger.WithFields(log.Fields{
			"order_uid": order.UID,
			"reference": event.Reference,
		}).Info("payment confirmed")
		return nil
	}
}
