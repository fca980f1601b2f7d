package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
postgres:
  host: localhost
  port: 5432
  user: lifecycle
  password: secret
  database: lifecycle
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Scoring.Sum() != 100 {
		t.Errorf("default weights sum = %d, want 100", cfg.Scoring.Sum())
	}
	if cfg.Scheduler.JourneyTickInterval != time.Minute {
		t.Errorf("journey tick = %v, want 1m", cfg.Scheduler.JourneyTickInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Kafka.ConsumerGroup != "lifecycle" {
		t.Errorf("consumer group = %q", cfg.Kafka.ConsumerGroup)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			"missing postgres host",
			"postgres:\n  port: 5432\n  user: u\n  database: d\n",
			"host is required",
		},
		{
			"bad broker",
			minimalConfig + "kafka:\n  brokers: [\"nohostport\"]\n",
			"invalid broker",
		},
		{
			"weights off balance",
			minimalConfig + "scoring:\n  adoption_weight: 50\n  engagement_weight: 25\n  relationship_weight: 15\n  financial_weight: 20\n  support_weight: 10\n",
			"sum to 120",
		},
		{
			"bad log level",
			minimalConfig + "logging:\n  level: verbose\n",
			"invalid level",
		},
		{
			"cors without origins",
			minimalConfig + "api:\n  enable_cors: true\n",
			"allowed_origins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "lifecycle"}
	dsn := p.DSN()
	for _, part := range []string{"host=db", "port=5432", "dbname=lifecycle", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q missing %q", dsn, part)
		}
	}
}
