package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// DefaultClientID — client.id, под которым сервис виден брокерам.
const DefaultClientID = "eshop-service"

// Producer отправляет события магазина в Kafka синхронно и в формате JSON.
// Ключ сообщения — UID заказа: события одного заказа попадают в одну партицию.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// ProducerOption настраивает Producer.
type ProducerOption func(*Producer)

// WithProducerLogger задаёт логгер.
func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// producerConfig: подтверждение всеми репликами и идемпотентная отправка,
// иначе повтор после таймаута может продублировать событие заказа.
func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, producerConfig(DefaultClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(sync, opts...), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer, в тестах это mocks.SyncProducer.
func NewProducerFromSync(sync sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		sync:   sync,
		logger: log.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEvent кодирует event в JSON и отправляет его в topic с ключом key.
func (p *Producer) PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Headers:   headers,
		Timestamp: p.now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "order_uid": key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("event sent")
	return nil
}

// Close сбрасывает буферы и закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
