package app

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        ":9090",
		TokenSecret:        "secret",
		ReservationTTL:     5 * time.Minute,
		ApprovalTTL:        30 * time.Minute,
		LockWait:           3 * time.Second,
		LockLease:          10 * time.Second,
		RecoveryMaxRetries: 5,
		ReconcileInterval:  5 * time.Minute,
		ReconcileLookback:  10 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty secret", func(c *Config) { c.TokenSecret = "" }},
		{"zero reservation ttl", func(c *Config) { c.ReservationTTL = 0 }},
		{"approval shorter than reservation", func(c *Config) { c.ApprovalTTL = time.Minute }},
		{"zero lock wait", func(c *Config) { c.LockWait = 0 }},
		{"lease not above wait", func(c *Config) { c.LockLease = c.LockWait }},
		{"zero max retries", func(c *Config) { c.RecoveryMaxRetries = 0 }},
		{"lookback below interval", func(c *Config) { c.ReconcileLookback = time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected default http addr: %q", cfg.HTTPAddr)
	}
	if cfg.ReservationTTL != 5*time.Minute || cfg.ApprovalTTL != 30*time.Minute {
		t.Fatalf("unexpected default ttls: %v / %v", cfg.ReservationTTL, cfg.ApprovalTTL)
	}
	if cfg.RecoveryMaxRetries != 5 || cfg.RecoveryBatchSize != 10 {
		t.Fatalf("unexpected recovery defaults: %d / %d", cfg.RecoveryMaxRetries, cfg.RecoveryBatchSize)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FLASHSALE_HTTP_ADDR", ":18080")
	t.Setenv("FLASHSALE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FLASHSALE_RESERVATION_TTL", "2m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddr != ":18080" {
		t.Fatalf("override not applied: %q", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("broker list not parsed: %v", cfg.KafkaBrokers)
	}
	if cfg.ReservationTTL != 2*time.Minute {
		t.Fatalf("ttl override not applied: %v", cfg.ReservationTTL)
	}
}
