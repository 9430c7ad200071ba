package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// entryStoreInMemory — in-memory реализация EntryStore. Атомарность транзакции
// финализации имитируется общим мьютексом: списание стока и outbox видны
// только вместе с созданной записью.
type entryStoreInMemory struct {
	mu       sync.Mutex
	entries  map[string]domain.ParticipationEntry
	products *ProductRepository
	outbox   *OutboxRepository
}

// NewEntryStore создаёт in-memory реализацию EntryStore. products и outbox
// могут быть nil, тогда соответствующие шаги транзакции недоступны.
func NewEntryStore(products *ProductRepository, outbox *OutboxRepository) domain.EntryStore {
	return &entryStoreInMemory{
		entries:  make(map[string]domain.ParticipationEntry),
		products: products,
		outbox:   outbox,
	}
}

func entryKey(activityID, userID int64) string {
	return fmt.Sprintf("%d:%d", activityID, userID)
}

func (s *entryStoreInMemory) UpsertEntry(_ context.Context, upsert domain.EntryUpsert) (domain.ParticipationEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(upsert.ActivityID, upsert.UserID)
	if existing, ok := s.entries[key]; ok {
		if existing.Status == upsert.Status {
			return existing, false, nil
		}
		return s.updateLocked(key, existing, upsert)
	}

	if upsert.DecrementStock {
		if s.products == nil {
			return domain.ParticipationEntry{}, false, domain.ErrProductNotFound
		}
		if err := s.products.decrement(upsert.ProductID, int64(upsert.Quantity)); err != nil {
			return domain.ParticipationEntry{}, false, err
		}
	}

	now := time.Now().UTC()
	entry := domain.ParticipationEntry{
		ID:          uuid.NewString(),
		ActivityID:  upsert.ActivityID,
		UserID:      upsert.UserID,
		ProductID:   upsert.ProductID,
		Status:      upsert.Status,
		RequestedAt: upsert.RequestedAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if upsert.MarkProcessed {
		entry.MarkProcessed(now)
	}
	s.entries[key] = entry

	if upsert.OutboxEvent != nil && s.outbox != nil {
		s.outbox.mu.Lock()
		s.outbox.enqueueLocked(*upsert.OutboxEvent)
		s.outbox.mu.Unlock()
	}

	return entry, true, nil
}

// updateLocked переводит найденную запись в целевой статус; повторная команда
// с тем же статусом до сюда не доходит. Вызывается под мьютексом.
func (s *entryStoreInMemory) updateLocked(key string, existing domain.ParticipationEntry, upsert domain.EntryUpsert) (domain.ParticipationEntry, bool, error) {
	if upsert.DecrementStock {
		if s.products == nil {
			return domain.ParticipationEntry{}, false, domain.ErrProductNotFound
		}
		if err := s.products.decrement(upsert.ProductID, int64(upsert.Quantity)); err != nil {
			return domain.ParticipationEntry{}, false, err
		}
	}

	now := time.Now().UTC()
	existing.ProductID = upsert.ProductID
	existing.Status = upsert.Status
	existing.UpdatedAt = now
	if upsert.MarkProcessed {
		existing.MarkProcessed(now)
	}
	s.entries[key] = existing

	if upsert.OutboxEvent != nil && s.outbox != nil {
		s.outbox.mu.Lock()
		s.outbox.enqueueLocked(*upsert.OutboxEvent)
		s.outbox.mu.Unlock()
	}

	return existing, false, nil
}

func (s *entryStoreInMemory) FindEntry(_ context.Context, activityID, userID int64) (domain.ParticipationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryKey(activityID, userID)]
	if !ok {
		return domain.ParticipationEntry{}, domain.ErrEntryNotFound
	}
	return entry, nil
}

var _ domain.EntryStore = (*entryStoreInMemory)(nil)
