package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TopicActivityEvents carries account touchpoint activity recorded by
// outside systems (billing ingestion, support sync, product telemetry).
// The activity processor consumes it to keep health scores fresh.
const TopicActivityEvents = "lifecycle.activity.events"

// Message is one consumed bus message with its decoded envelope left to
// the handler.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes one consumed message. A returned error is logged and
// the message is still committed; the bus is not a retry queue.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads one topic with a consumer group and hands each message to
// a handler.
type Consumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewConsumer creates a consumer-group reader for topic
func NewConsumer(cfg KafkaConfig, topic string, logger zerolog.Logger) *Consumer {
	group := cfg.ConsumerGroup
	if group == "" {
		group = "lifecycle"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})
	return &Consumer{
		reader: reader,
		logger: logger.With().Str("component", "events").Str("topic", topic).Logger(),
	}
}

// Run consumes until ctx is canceled or the reader is closed
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := handler(ctx, Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}); err != nil {
			c.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("message handler failed")
		}
	}
}

// Close stops the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeEnvelope unmarshals a consumed message into the given event type
func DecodeEnvelope[T any](msg Message) (T, error) {
	var event T
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, err
	}
	return event, nil
}
