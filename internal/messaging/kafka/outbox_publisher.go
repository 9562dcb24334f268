package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения заказов в Kafka.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish отправляет сообщение с ключом заказа: события одного заказа попадают в одну партицию.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	env := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now(),
	}
	return p.producer.PublishEvent(p.topic, key, env, sarama.RecordHeader{
		Key:   []byte(HeaderEventType),
		Value: []byte(event.EventType),
	})
}

// DeadLetterPublisher отправляет в DLQ сообщения outbox, исчерпавшие попытки доставки.
type DeadLetterPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
}

// NewDeadLetterPublisher создаёт паблишер DLQ; пустой topic означает TopicOrderEventsDLQ.
func NewDeadLetterPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	if topic == "" {
		topic = TopicOrderEventsDLQ
	}
	return &DeadLetterPublisher{producer: producer, topic: topic, originalTopic: TopicOrderEvents}
}

// PublishDeadLetter отправляет сообщение с причиной и числом попыток в заголовках.
func (p *DeadLetterPublisher) PublishDeadLetter(event domain.OutboxMessage, attempts int, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dead letter publisher is not initialized")
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	env := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
	return p.producer.PublishEvent(p.topic, event.AggregateID, env,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(p.originalTopic)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(fmt.Sprint(attempts))},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(reason)},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
