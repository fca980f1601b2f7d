package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration section by section
func (c *Config) Validate() error {
	if err := c.validatePostgres(); err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}
	if err := c.validateKafka(); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if err := c.validateScoring(); err != nil {
		return fmt.Errorf("scoring config: %w", err)
	}
	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Postgres.Port)
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

func (c *Config) validateKafka() error {
	// Brokers are optional; without them events are captured in-process.
	for _, broker := range c.Kafka.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("invalid broker %q (expected host:port)", broker)
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.API.Port)
	}
	if c.API.EnableCORS && len(c.API.AllowedOrigins) == 0 {
		return fmt.Errorf("cors enabled without allowed_origins")
	}
	return nil
}

func (c *Config) validateScoring() error {
	weights := []struct {
		name  string
		value int
	}{
		{"adoption_weight", c.Scoring.AdoptionWeight},
		{"engagement_weight", c.Scoring.EngagementWeight},
		{"relationship_weight", c.Scoring.RelationshipWeight},
		{"financial_weight", c.Scoring.FinancialWeight},
		{"support_weight", c.Scoring.SupportWeight},
	}
	for _, w := range weights {
		if w.value < 0 || w.value > 100 {
			return fmt.Errorf("%s out of range: %d", w.name, w.value)
		}
	}
	if sum := c.Scoring.Sum(); sum != 100 {
		return fmt.Errorf("weights sum to %d, want 100", sum)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid format %q", c.Logging.Format)
	}
	return nil
}
