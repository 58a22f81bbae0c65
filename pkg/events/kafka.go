package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/relaycast/relaycast/pkg/logger"
)

// KafkaPublisher publishes session events to a Kafka topic, keyed by
// session id so one session's transitions stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	// Enabled controls whether the publisher is built from configuration.
	Enabled bool `mapstructure:"enabled"`

	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`

	// Topic is the Kafka topic (default "relaycast-sessions").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// WriteTimeout is the timeout for produce calls (default 10s).
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NewKafkaPublisher creates a sarama sync producer over the brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "relaycast-sessions"
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Timeout = cfg.WriteTimeout
	sc.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka event publisher connected")
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer. Used by tests.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "relaycast-sessions"
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Name implements Publisher.
func (p *KafkaPublisher) Name() string {
	return "kafka"
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(_ context.Context, ev SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
