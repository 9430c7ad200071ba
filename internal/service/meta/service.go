package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

// CatalogClient загружает снимок активности из каталога кампаний.
type CatalogClient interface {
	// FetchActivity возвращает метаданные активности или ErrActivityNotFound.
	FetchActivity(ctx context.Context, activityID int64) (domain.ActivityMeta, error)
}

// Service отдаёт метаданные активности через кэш с TTL. Снимок в кэше
// неизменяемый: правила меняются только публикацией новой версии в каталоге
// и естественным истечением ключа.
type Service struct {
	store    domain.KeyValueStore
	catalog  CatalogClient
	cacheTTL time.Duration
	logger   *log.Entry
}

// NewService создаёт сервис метаданных. ttl<=0 заменяется значением по умолчанию.
func NewService(store domain.KeyValueStore, catalog CatalogClient, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		cacheTTL: ttl,
		logger:   log.WithField("component", "activity-meta"),
	}
}

func metaKey(activityID int64) string {
	return fmt.Sprintf("activity:%d:meta", activityID)
}

// Get возвращает метаданные активности: из кэша, а при промахе — из каталога
// с повторным кэшированием. Повреждённая запись кэша удаляется и перечитывается
// из каталога, а не роняет запрос.
func (s *Service) Get(ctx context.Context, activityID int64) (domain.ActivityMeta, error) {
	key := metaKey(activityID)

	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return domain.ActivityMeta{}, fmt.Errorf("read meta cache: %w", err)
	}
	if ok {
		var meta domain.ActivityMeta
		if err := json.Unmarshal(raw, &meta); err == nil {
			return meta, nil
		}
		s.logger.WithField("activity_id", activityID).Warn("corrupt activity meta in cache, refetching")
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("activity_id", activityID).Warn("failed to drop corrupt meta key")
		}
	}

	meta, err := s.catalog.FetchActivity(ctx, activityID)
	if err != nil {
		return domain.ActivityMeta{}, err
	}
	meta.DeriveValidationPhases()

	body, err := json.Marshal(meta)
	if err != nil {
		return domain.ActivityMeta{}, fmt.Errorf("marshal activity meta: %w", err)
	}
	if err := s.store.Set(ctx, key, body, s.cacheTTL); err != nil {
		// Промах кэша не должен блокировать допуск.
		s.logger.WithError(err).WithField("activity_id", activityID).Warn("failed to cache activity meta")
	}

	return meta, nil
}

// Evict удаляет снимок активности из кэша.
func (s *Service) Evict(ctx context.Context, activityID int64) error {
	return s.store.Delete(ctx, metaKey(activityID))
}
