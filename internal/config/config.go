// Package config loads and validates the lifecycled configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldpulse/lifecycle/internal/cache"
	"github.com/fieldpulse/lifecycle/internal/events"
)

// Config is the overall application configuration
type Config struct {
	Postgres  PostgresConfig     `yaml:"postgres"`
	Redis     cache.Config       `yaml:"redis"`
	Kafka     events.KafkaConfig `yaml:"kafka"`
	API       APIConfig          `yaml:"api"`
	Scoring   ScoringConfig      `yaml:"scoring"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	OpenAI    OpenAIConfig       `yaml:"openai"`
	Stripe    StripeConfig       `yaml:"stripe"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// PostgresConfig holds database connection settings
type PostgresConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// DSN builds the lib/pq connection string
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode)
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ScoringConfig holds the health score component weights
type ScoringConfig struct {
	AdoptionWeight     int `yaml:"adoption_weight"`
	EngagementWeight   int `yaml:"engagement_weight"`
	RelationshipWeight int `yaml:"relationship_weight"`
	FinancialWeight    int `yaml:"financial_weight"`
	SupportWeight      int `yaml:"support_weight"`
}

// Sum is the weight total, expected to be 100
func (s ScoringConfig) Sum() int {
	return s.AdoptionWeight + s.EngagementWeight + s.RelationshipWeight +
		s.FinancialWeight + s.SupportWeight
}

// SchedulerConfig holds the tick intervals for the background loops
type SchedulerConfig struct {
	JourneyTickInterval    time.Duration `yaml:"journey_tick_interval"`
	SegmentRefreshInterval time.Duration `yaml:"segment_refresh_interval"`
	HealthRecalcInterval   time.Duration `yaml:"health_recalc_interval"`
}

// OpenAIConfig holds the account insight generation settings. An empty key
// disables insight generation.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// StripeConfig holds billing webhook ingestion settings. An empty webhook
// secret disables signature verification (local development only).
type StripeConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates the configuration at path; an empty path falls
// back to CONFIG_PATH, then config/config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 15 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 15 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "lifecycled"
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "lifecycle"
	}
	if c.Scoring.Sum() == 0 {
		c.Scoring = ScoringConfig{
			AdoptionWeight:     30,
			EngagementWeight:   25,
			RelationshipWeight: 15,
			FinancialWeight:    20,
			SupportWeight:      10,
		}
	}
	if c.Scheduler.JourneyTickInterval == 0 {
		c.Scheduler.JourneyTickInterval = time.Minute
	}
	if c.Scheduler.SegmentRefreshInterval == 0 {
		c.Scheduler.SegmentRefreshInterval = 15 * time.Minute
	}
	if c.Scheduler.HealthRecalcInterval == 0 {
		c.Scheduler.HealthRecalcInterval = 6 * time.Hour
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 25
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Postgres.ConnLifetime == 0 {
		c.Postgres.ConnLifetime = 30 * time.Minute
	}
}
