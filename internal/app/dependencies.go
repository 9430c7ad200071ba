package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/flashsale/internal/storage/redis"
)

// Dependencies содержит инфраструктурные зависимости приложения.
// Для каждого внешнего хранилища с пустым адресом подставляется in-memory
// реализация: сервис остаётся запускаемым локально без инфраструктуры.
type Dependencies struct {
	Admission   domain.AdmissionStore
	KV          domain.KeyValueStore
	Locker      domain.Locker
	Snapshots   domain.UserSnapshotSource
	ExpiredKeys <-chan string

	Entries    domain.EntryStore
	Products   domain.ProductRepository
	Failures   domain.FailureLogRepository
	Activities domain.ActivityRepository
	OutboxRepo domain.OutboxRepository

	Publisher domain.CommandPublisher
	Loopback  *LoopbackPublisher

	RedisStore    *redisstore.Store
	Subscriber    *redisstore.ExpiredKeySubscriber
	PostgresStore *postgres.Store
	Producer      *kafka.Producer
	KafkaBrokers  []string

	Logger *log.Entry
}

// NewDependencies собирает зависимости согласно конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger, KafkaBrokers: cfg.KafkaBrokers}

	if err := deps.initCache(ctx, cfg); err != nil {
		return nil, err
	}
	if err := deps.initPersistence(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	deps.initMessaging(cfg)

	return deps, nil
}

func (d *Dependencies) initCache(ctx context.Context, cfg Config) error {
	if cfg.RedisAddr == "" {
		d.Logger.Warn("redis address is empty, using in-memory admission cache")
		kv := memory.NewKeyValueStore()
		d.Admission = memory.NewAdmissionStore()
		d.KV = kv
		d.Locker = memory.NewLocker()
		d.Snapshots = &kvSnapshotSource{kv: kv}
		d.ExpiredKeys = make(chan string)
		return nil
	}

	store, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	d.RedisStore = store
	d.Admission = store
	d.KV = store
	d.Locker = redisstore.NewLock(store, nil)
	d.Snapshots = store

	subscriber := redisstore.NewExpiredKeySubscriber(store, 0)
	d.Subscriber = subscriber
	d.ExpiredKeys = subscriber.Keys()

	d.Logger.WithField("addr", cfg.RedisAddr).Info("redis cache connected")
	return nil
}

func (d *Dependencies) initPersistence(ctx context.Context, cfg Config) error {
	if cfg.PostgresDSN == "" {
		d.Logger.Warn("postgres dsn is empty, using in-memory persistence")
		products := memory.NewProductRepository()
		outboxRepo := memory.NewOutboxRepository()
		d.Products = products
		d.OutboxRepo = outboxRepo
		d.Entries = memory.NewEntryStore(products, outboxRepo)
		d.Failures = memory.NewFailureLogRepository()
		d.Activities = memory.NewActivityRepository()
		return nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	d.PostgresStore = store
	d.Entries = postgres.NewEntryStore(store)
	d.Products = postgres.NewProductRepository(store)
	d.Failures = postgres.NewFailureLogRepository(store)
	d.Activities = postgres.NewActivityRepository(store)
	d.OutboxRepo = postgres.NewOutboxRepository(store)

	d.Logger.Info("postgres storage connected")
	return nil
}

func (d *Dependencies) initMessaging(cfg Config) {
	if len(cfg.KafkaBrokers) == 0 {
		d.Logger.Warn("kafka brokers are empty, commands are delivered in-process")
		d.Loopback = NewLoopbackPublisher()
		d.Publisher = d.Loopback
		return
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to create kafka producer, commands are delivered in-process")
		d.Loopback = NewLoopbackPublisher()
		d.Publisher = d.Loopback
		return
	}

	d.Producer = producer
	d.Publisher = kafka.NewCampaignPublisher(producer)
	d.Logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() {
	if d.Producer != nil {
		if err := d.Producer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.PostgresStore != nil {
		if err := d.PostgresStore.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
	if d.RedisStore != nil {
		if err := d.RedisStore.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis store")
		}
	}
}

// kvSnapshotSource читает снимок профиля из key-value хранилища; используется
// с in-memory кэшем вместо прямого доступа к Redis.
type kvSnapshotSource struct {
	kv domain.KeyValueStore
}

func (s *kvSnapshotSource) UserSnapshot(ctx context.Context, userID int64) (domain.UserSnapshot, bool, error) {
	raw, ok, err := s.kv.Get(ctx, fmt.Sprintf("userCache:%d", userID))
	if err != nil || !ok {
		return domain.UserSnapshot{}, false, err
	}

	var snapshot domain.UserSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.UserSnapshot{}, false, fmt.Errorf("decode user snapshot: %w", err)
	}
	return snapshot, true, nil
}

// LoopbackPublisher доставляет команды напрямую зарегистрированному
// обработчику. Заменяет брокер в локальном режиме; retry-канал идёт тем же
// путём.
type LoopbackPublisher struct {
	mu      sync.RWMutex
	handler func(ctx context.Context, cmd domain.CampaignCommand) error
}

// NewLoopbackPublisher создаёт publisher без обработчика.
func NewLoopbackPublisher() *LoopbackPublisher {
	return &LoopbackPublisher{}
}

// SetHandler подключает обработчик команд (обычно финализатор).
func (p *LoopbackPublisher) SetHandler(handler func(ctx context.Context, cmd domain.CampaignCommand) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

func (p *LoopbackPublisher) publish(cmd domain.CampaignCommand) error {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if handler == nil {
		return domain.ErrPublishUnavailable
	}
	return handler(context.Background(), cmd)
}

// PublishCommand доставляет команду основного канала.
func (p *LoopbackPublisher) PublishCommand(cmd domain.CampaignCommand) error {
	return p.publish(cmd)
}

// PublishRetry доставляет восстановленную команду.
func (p *LoopbackPublisher) PublishRetry(cmd domain.CampaignCommand) error {
	return p.publish(cmd)
}

var _ domain.CommandPublisher = (*LoopbackPublisher)(nil)
