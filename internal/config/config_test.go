package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("PULSE_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("PULSE_SERVER_PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
scheduler:
  workers: 8
  interval: 5m
notify:
  kafka:
    enabled: true
    brokers: ["k1:9092", "k2:9092"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want env override 9090", cfg.Server.Port)
	}
	if cfg.Scheduler.Workers != 8 || cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Persistence.MaxAttempts != 4 || cfg.Database.Driver != "sqlite" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Persistence, cfg.Database)
	}
	if len(cfg.Notify.Kafka.Brokers) != 2 || cfg.Notify.Kafka.Topic != "pulse.alerts" {
		t.Errorf("kafka = %+v", cfg.Notify.Kafka)
	}
	if cfg.Extractor.ProductivityWindow != 30*24*time.Hour {
		t.Errorf("productivity window = %v", cfg.Extractor.ProductivityWindow)
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}
