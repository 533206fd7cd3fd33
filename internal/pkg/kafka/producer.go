package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/Gopher0727/KaifLake/config"
	"github.com/Gopher0727/KaifLake/internal/model"
)

// Producer publishes chat events to Kafka.
// Events are keyed by chat id so one chat's events stay in one partition.
type Producer struct {
	producer sarama.SyncProducer
	config   *config.KafkaConfig
}

// NewProducer creates a new Kafka producer instance.
// It establishes a connection to the Kafka brokers specified in the configuration.
//
// Parameters:
//   - cfg: Kafka configuration containing broker addresses and producer settings
//
// Returns:
//   - *Producer: The created producer instance
//   - error: Any error encountered during initialization
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(producer, cfg), nil
}

func newProducer(producer sarama.SyncProducer, cfg *config.KafkaConfig) *Producer {
	return &Producer{producer: producer, config: cfg}
}

func newSaramaConfig(cfg *config.KafkaConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.Producer.MaxRetries
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.Producer.RetryBackoffMs) * time.Millisecond
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second
	return saramaConfig
}

// Produce sends a message to the specified Kafka topic.
//
// Parameters:
//   - ctx: Context for cancellation
//   - topic: The Kafka topic to send the message to
//   - key: Optional message key for partitioning (can be nil)
//   - value: The message payload as bytes
//
// Returns:
//   - partition: The partition the message was sent to
//   - offset: The offset of the message in the partition
//   - error: Any error encountered during sending
func (p *Producer) Produce(ctx context.Context, topic string, key []byte, value []byte) (partition int32, offset int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err = p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}
	return partition, offset, nil
}

// PublishChatEvent encodes event as JSON and sends it to the events topic.
func (p *Producer) PublishChatEvent(ctx context.Context, event model.ChatEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	key := []byte(strconv.FormatInt(event.ChatID, 10))
	_, _, err = p.Produce(ctx, p.config.Topics.Events, key, value)
	return err
}

// Close closes the Kafka producer and releases all resources.
func (p *Producer) Close() error {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka producer: %w", err)
		}
	}
	return nil
}

// NoopPublisher drops every event. It stands in when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishChatEvent(context.Context, model.ChatEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
