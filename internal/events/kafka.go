package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds broker connection settings for the event bus
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ClientID      string   `yaml:"client_id"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// KafkaPublisher implements Publisher over a shared kafka writer. The topic
// is set per message so one writer serves every lifecycle topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaPublisher creates a publisher for the configured brokers
func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "events").Logger(),
	}, nil
}

// Publish marshals payload as JSON and writes it to topic keyed by key
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.mu.Unlock()

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("publish failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying writer; further publishes fail
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
