package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config — конфигурация сервиса допуска из переменных окружения.
// Пустые адреса Redis/PostgreSQL/Kafka включают in-memory заглушки для
// локальной разработки.
type Config struct {
	HTTPAddr    string `env:"FLASHSALE_HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"FLASHSALE_METRICS_ADDR" envDefault:":9090"`

	RedisAddr     string `env:"FLASHSALE_REDIS_ADDR"`
	RedisPassword string `env:"FLASHSALE_REDIS_PASSWORD"`
	RedisDB       int    `env:"FLASHSALE_REDIS_DB" envDefault:"0"`

	PostgresDSN string `env:"FLASHSALE_POSTGRES_DSN"`

	KafkaBrokers []string `env:"FLASHSALE_KAFKA_BROKERS" envSeparator:","`
	KafkaGroupID string   `env:"FLASHSALE_KAFKA_GROUP_ID" envDefault:"entry-service"`

	CatalogBaseURL     string `env:"FLASHSALE_CATALOG_URL" envDefault:"http://localhost:8081"`
	CatalogSystemToken string `env:"FLASHSALE_CATALOG_SYSTEM_TOKEN"`

	TokenSecret    string        `env:"FLASHSALE_TOKEN_SECRET" envDefault:"dev-insecure-secret"`
	ReservationTTL time.Duration `env:"FLASHSALE_RESERVATION_TTL" envDefault:"5m"`
	ApprovalTTL    time.Duration `env:"FLASHSALE_APPROVAL_TTL" envDefault:"30m"`
	MetaCacheTTL   time.Duration `env:"FLASHSALE_META_CACHE_TTL" envDefault:"5m"`

	LockWait  time.Duration `env:"FLASHSALE_LOCK_WAIT" envDefault:"3s"`
	LockLease time.Duration `env:"FLASHSALE_LOCK_LEASE" envDefault:"10s"`

	RecoveryInterval   time.Duration `env:"FLASHSALE_RECOVERY_INTERVAL" envDefault:"1m"`
	RecoveryBatchSize  int           `env:"FLASHSALE_RECOVERY_BATCH_SIZE" envDefault:"10"`
	RecoveryMaxRetries int           `env:"FLASHSALE_RECOVERY_MAX_RETRIES" envDefault:"5"`

	ReconcileInterval time.Duration `env:"FLASHSALE_RECONCILE_INTERVAL" envDefault:"5m"`
	ReconcileLookback time.Duration `env:"FLASHSALE_RECONCILE_LOOKBACK" envDefault:"10m"`

	OutboxPollInterval time.Duration `env:"FLASHSALE_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"FLASHSALE_OUTBOX_BATCH_SIZE" envDefault:"100"`
}

// LoadConfig читает конфигурацию из окружения и проверяет инварианты.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("FLASHSALE_TOKEN_SECRET must not be empty")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("FLASHSALE_RESERVATION_TTL must be positive")
	}
	if c.ApprovalTTL < c.ReservationTTL {
		return fmt.Errorf("FLASHSALE_APPROVAL_TTL must not be shorter than reservation ttl")
	}
	if c.LockWait <= 0 || c.LockLease <= 0 {
		return fmt.Errorf("lock wait and lease must be positive")
	}
	if c.LockLease <= c.LockWait {
		return fmt.Errorf("FLASHSALE_LOCK_LEASE must exceed FLASHSALE_LOCK_WAIT")
	}
	if c.RecoveryMaxRetries <= 0 {
		return fmt.Errorf("FLASHSALE_RECOVERY_MAX_RETRIES must be positive")
	}
	if c.ReconcileLookback < c.ReconcileInterval {
		return fmt.Errorf("FLASHSALE_RECONCILE_LOOKBACK must cover at least one interval")
	}
	return nil
}
