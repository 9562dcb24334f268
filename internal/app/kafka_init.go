package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/messaging/kafka"
)

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer подписывает обработчик оплат на топик платёжных событий.
// Необработанные сообщения уходят в DLQ через producer, если он есть.
func initPaymentConsumer(brokers []string, groupID string, orders kafka.PaymentMarker, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(logger.WithField("component", "payment-consumer"))}
	if producer != nil {
		opts = append(opts, kafka.WithDeadLetterProducer(producer, kafka.TopicPaymentEventsDLQ))
	}
	consumer, err := kafka.NewConsumer(brokers, groupID, []string{kafka.TopicPaymentEvents},
		kafka.NewPaymentHandler(orders, logger.WithField("component", "payment-handler")), opts...)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment consumer")
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
