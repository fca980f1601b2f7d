package events

import (
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TopicConfig defines creation parameters for one topic
type TopicConfig struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	RetentionMs       int64
}

// Topics lists every topic the engine writes, with retention sized to how
// downstream consumers use each stream.
var Topics = map[string]TopicConfig{
	TopicHealthEvents: {
		Name:              TopicHealthEvents,
		Partitions:        8,
		ReplicationFactor: 3,
		RetentionMs:       7776000000, // 90 days, audit consumers replay these
	},
	TopicSegmentEvents: {
		Name:              TopicSegmentEvents,
		Partitions:        8,
		ReplicationFactor: 3,
		RetentionMs:       2592000000, // 30 days
	},
	TopicJourneyEvents: {
		Name:              TopicJourneyEvents,
		Partitions:        8,
		ReplicationFactor: 3,
		RetentionMs:       2592000000, // 30 days
	},
	TopicActions: {
		Name:              TopicActions,
		Partitions:        12,
		ReplicationFactor: 3,
		RetentionMs:       604800000, // 7 days, action workers consume promptly
	},
	TopicActivityEvents: {
		Name:              TopicActivityEvents,
		Partitions:        12,
		ReplicationFactor: 3,
		RetentionMs:       604800000, // 7 days
	},
}

// EnsureTopics creates every configured topic, ignoring already-exists
// responses so startup is idempotent.
func EnsureTopics(brokers []string, logger zerolog.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("connect to kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve kafka controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("connect to kafka controller: %w", err)
	}
	defer controllerConn.Close()

	for _, cfg := range Topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             cfg.Name,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10)},
			},
		})
		if err != nil {
			logger.Warn().Err(err).Str("topic", cfg.Name).Msg("topic create skipped")
		} else {
			logger.Info().Str("topic", cfg.Name).Msg("topic created")
		}
	}
	return nil
}
