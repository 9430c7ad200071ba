package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type kvRecord struct {
	value     []byte
	expiresAt time.Time // нулевое значение — без истечения
}

func (r kvRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// keyValueStoreInMemory — in-memory реализация KeyValueStore с ленивым
// вытеснением истёкших ключей.
type keyValueStoreInMemory struct {
	mu      sync.Mutex
	records map[string]kvRecord
	now     func() time.Time
}

// NewKeyValueStore создаёт in-memory реализацию KeyValueStore.
func NewKeyValueStore() domain.KeyValueStore {
	return &keyValueStoreInMemory{
		records: make(map[string]kvRecord),
		now:     time.Now,
	}
}

func (s *keyValueStoreInMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := kvRecord{value: append([]byte(nil), value...)}
	if ttl > 0 {
		record.expiresAt = s.now().Add(ttl)
	}
	s.records[key] = record
	return nil
}

func (s *keyValueStoreInMemory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[key]; ok && !record.expired(s.now()) {
		return false, nil
	}

	record := kvRecord{value: append([]byte(nil), value...)}
	if ttl > 0 {
		record.expiresAt = s.now().Add(ttl)
	}
	s.records[key] = record
	return true, nil
}

func (s *keyValueStoreInMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	if record.expired(s.now()) {
		delete(s.records, key)
		return nil, false, nil
	}
	return append([]byte(nil), record.value...), true, nil
}

func (s *keyValueStoreInMemory) GetDel(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || record.expired(s.now()) {
		delete(s.records, key)
		return nil, false, nil
	}
	delete(s.records, key)
	return record.value, true, nil
}

func (s *keyValueStoreInMemory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func (s *keyValueStoreInMemory) Refresh(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || record.expired(s.now()) {
		return nil
	}
	if ttl > 0 {
		record.expiresAt = s.now().Add(ttl)
	} else {
		record.expiresAt = time.Time{}
	}
	s.records[key] = record
	return nil
}

var _ domain.KeyValueStore = (*keyValueStoreInMemory)(nil)
