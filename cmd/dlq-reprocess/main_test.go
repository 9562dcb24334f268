package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/eshop/internal/messaging/kafka"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func orderDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(kafka.Envelope{
		ID:            "evt-1",
		AggregateType: "order",
		AggregateID:   "order-uid-1",
		EventType:     "order.created",
		Payload:       json.RawMessage(`{"uid":"order-uid-1"}`),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Offset: offset,
		Value:  raw,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicOrderEvents)},
		},
	}
}

func paymentDeadLetter(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Offset: offset,
		Value: []byte(`{"original_topic":"eshop.payment.events","original_key":"order-uid-2",` +
			`"original_value":"{\"order_uid\":\"order-uid-2\",\"reference\":\"pay-1\"}","error_message":"boom"}`),
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-brokers=broker-1:9092, broker-2:9092",
		"-source-topic=" + kafka.TopicPaymentEventsDLQ,
		"-limit=10",
		"-execute",
		"-from-newest",
		"-idle-timeout=3s",
	}, envLookup(nil))
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicPaymentEventsDLQ, cfg.sourceTopic)
	require.Empty(t, cfg.targetTopic)
	require.Equal(t, 10, cfg.limit)
	require.True(t, cfg.execute)
	require.True(t, cfg.fromNewest)
	require.Equal(t, 3*time.Second, cfg.idleTimeout)

	cfg, err = parseConfig(nil, envLookup(map[string]string{envKafkaBrokers: "env-broker:9092"}))
	require.NoError(t, err)
	require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicOrderEventsDLQ, cfg.sourceTopic)
	require.Equal(t, defaultReplayLimit, cfg.limit)
	require.False(t, cfg.execute)
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	cases := map[string][]string{
		"kafka brokers are required":    {},
		"source-topic is required":      {"-brokers=b:9092", "-source-topic= "},
		"limit must be > 0":             {"-brokers=b:9092", "-limit=0"},
		"idle-timeout must be > 0":      {"-brokers=b:9092", "-idle-timeout=0s"},
		"flag provided but not defined": {"-unknown"},
	}
	for want, args := range cases {
		_, err := parseConfig(args, envLookup(nil))
		require.ErrorContains(t, err, want)
	}
}

func TestFallbackTopic(t *testing.T) {
	require.Equal(t, kafka.TopicPaymentEvents, fallbackTopic(kafka.TopicPaymentEventsDLQ))
	require.Equal(t, kafka.TopicOrderEvents, fallbackTopic(kafka.TopicOrderEventsDLQ))
	require.Equal(t, kafka.TopicOrderEvents, fallbackTopic("custom.dlq"))
}

func TestExtractReplayMessage_ConsumerDeadLetter(t *testing.T) {
	got, err := extractReplayMessage(paymentDeadLetter(0), config{sourceTopic: kafka.TopicPaymentEventsDLQ})
	require.NoError(t, err)
	require.Equal(t, kafka.TopicPaymentEvents, got.topic)
	require.Equal(t, "order-uid-2", got.key)
	require.JSONEq(t, `{"order_uid":"order-uid-2","reference":"pay-1"}`, string(got.value))
	require.Empty(t, got.headers)
}

func TestExtractReplayMessage_OrderEnvelope(t *testing.T) {
	got, err := extractReplayMessage(orderDeadLetter(t, 0), config{sourceTopic: kafka.TopicOrderEventsDLQ})
	require.NoError(t, err)
	require.Equal(t, kafka.TopicOrderEvents, got.topic)
	require.Equal(t, "order-uid-1", got.key)
	require.Len(t, got.headers, 1)
	require.Equal(t, "order.created", string(got.headers[0].Value))

	var env kafka.Envelope
	require.NoError(t, json.Unmarshal(got.value, &env))
	require.Equal(t, "evt-1", env.ID)
	require.JSONEq(t, `{"uid":"order-uid-1"}`, string(env.Payload))
	require.False(t, env.PublishedAt.IsZero())
}

func TestExtractReplayMessage_TargetOverride(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, targetTopic: "eshop.order.events.replay"}
	got, err := extractReplayMessage(orderDeadLetter(t, 0), cfg)
	require.NoError(t, err)
	require.Equal(t, "eshop.order.events.replay", got.topic)
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ}
	for _, value := range []string{
		`not-json`,
		`{"foo":"bar"}`,
		`{"original_value":"{broken"}`,
	} {
		_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, cfg)
		require.Error(t, err, value)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "x", firstNonEmpty("", "  ", "x", "y"))
	require.Empty(t, firstNonEmpty("", " "))
}

func TestPublishReplay(t *testing.T) {
	require.Error(t, publishReplay(nil, replayMessage{}))

	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		if string(value) != `{"x":1}` {
			return errors.New("unexpected value " + string(value))
		}
		return nil
	})
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := kafka.NewProducerFromSync(sync)
	msg := replayMessage{topic: kafka.TopicOrderEvents, key: "k", value: json.RawMessage(`{"x":1}`)}
	require.NoError(t, publishReplay(producer, msg))
	require.Error(t, publishReplay(producer, msg))
	require.NoError(t, producer.Close())
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(orderDeadLetter(t, 0), &sarama.ConsumerMessage{Offset: 1, Value: []byte("junk")}, paymentDeadLetter(2)),
	}}
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, limit: 10, idleTimeout: time.Second}

	stats, err := processPartition(context.Background(), source, client, nil, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, source.calls)
}

func TestProcessPartition_ExecuteFromNewest(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(orderDeadLetter(t, 3), paymentDeadLetter(4)),
	}}
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndSucceed()
	sync.ExpectSendMessageAndSucceed()
	producer := kafka.NewProducerFromSync(sync)

	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, limit: 2, execute: true, fromNewest: true, idleTimeout: time.Second}
	stats, err := processPartition(context.Background(), source, client, producer, cfg, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
	require.Equal(t, []consumeCall{{partition: 0, offset: 3}}, source.calls)
	require.NoError(t, producer.Close())
}

func TestProcessPartition_Errors(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, limit: 1, idleTimeout: time.Second}

	client := &stubOffsetClient{offsetErr: errors.New("offset down")}
	_, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "get oldest offset")

	client = &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumeErr: errors.New("no partition")}
	_, err = processPartition(context.Background(), source, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "consume partition 0")

	empty := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 4, newest: 4}}}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, empty, nil, cfg, 0, 1)
	require.NoError(t, err)
	require.Zero(t, stats.processed)

	failing := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	failing.errors <- &sarama.ConsumerError{Topic: cfg.sourceTopic, Err: errors.New("broken")}
	source = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: failing}}
	_, err = processPartition(context.Background(), source, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "partition 0 consumer error")

	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer := kafka.NewProducerFromSync(sync)
	source = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(paymentDeadLetter(0))}}
	cfg.execute = true
	_, err = processPartition(context.Background(), source, client, producer, cfg, 0, 1)
	require.ErrorContains(t, err, "publish replay message")
	require.NoError(t, producer.Close())
}

func TestProcessPartition_IdleAndCancel(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, limit: 5, idleTimeout: 20 * time.Millisecond}

	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}
	stats, err := processPartition(context.Background(), source, client, nil, cfg, 0, 5)
	require.NoError(t, err)
	require.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	blocked := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	source = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: blocked}}
	_, err = processPartition(ctx, source, client, nil, cfg, 0, 5)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicOrderEventsDLQ, limit: 2, idleTimeout: time.Second}

	_, err := runReplay(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)

	execCfg := cfg
	execCfg.execute = true
	_, err = runReplay(context.Background(), execCfg, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	require.ErrorContains(t, err, "producer is required")

	_, err = runReplay(context.Background(), cfg, &stubOffsetClient{partitionsErr: errors.New("meta")}, &stubPartitionConsumerSource{}, nil)
	require.ErrorContains(t, err, "get partitions")

	stats, err := runReplay(context.Background(), cfg, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	require.NoError(t, err)
	require.Zero(t, stats.processed)

	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			1: {oldest: 0, newest: 2},
		},
	}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(orderDeadLetter(t, 0), orderDeadLetter(t, 1)),
		1: closedPartitionConsumer(paymentDeadLetter(0)),
	}}
	stats, err = runReplay(context.Background(), cfg, client, source, nil)
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, source.calls)
}

func TestRun_UsesDependencies(t *testing.T) {
	original := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = original })

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(paymentDeadLetter(0))}}
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndSucceed()
	producer := kafka.NewProducerFromSync(sync)

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, source, producer, nil
	}
	cfg := config{sourceTopic: kafka.TopicPaymentEventsDLQ, limit: 5, execute: true, idleTimeout: time.Second}
	stats, err := run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.True(t, client.closed)
	require.True(t, source.closed)

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("no kafka")
	}
	_, err = run(context.Background(), cfg)
	require.EqualError(t, err, "no kafka")
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	r := s.offsets[partition]
	if marker == sarama.OffsetOldest {
		return r.oldest, nil
	}
	return r.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return s.partitions, s.partitionsErr
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, errors.New("unexpected partition")
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range messages {
		pc.messages <- msg
	}
	close(pc.messages)
	return pc
}
