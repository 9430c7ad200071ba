package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// admissionStoreInMemory — in-memory реализация AdmissionStore для локальной
// разработки и тестов. Каждая операция атомарна под общим мьютексом, что
// повторяет сериализацию настоящего кэша.
type admissionStoreInMemory struct {
	mu           sync.Mutex
	participants map[int64]map[int64]struct{}
	counters     map[int64]int64
}

// NewAdmissionStore создаёт in-memory реализацию AdmissionStore.
func NewAdmissionStore() domain.AdmissionStore {
	return &admissionStoreInMemory{
		participants: make(map[int64]map[int64]struct{}),
		counters:     make(map[int64]int64),
	}
}

func (s *admissionStoreInMemory) AddParticipant(_ context.Context, activityID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.participants[activityID]
	if !ok {
		set = make(map[int64]struct{})
		s.participants[activityID] = set
	}
	if _, exists := set[userID]; exists {
		return false, nil
	}
	set[userID] = struct{}{}
	return true, nil
}

func (s *admissionStoreInMemory) RemoveParticipant(_ context.Context, activityID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.participants[activityID]; ok {
		delete(set, userID)
	}
	return nil
}

func (s *admissionStoreInMemory) IncrementCounter(_ context.Context, activityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[activityID]++
	return s.counters[activityID], nil
}

func (s *admissionStoreInMemory) DecrementCounter(_ context.Context, activityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[activityID]--
	return s.counters[activityID], nil
}

func (s *admissionStoreInMemory) CounterValue(_ context.Context, activityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[activityID], nil
}

func (s *admissionStoreInMemory) ParticipantCount(_ context.Context, activityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.participants[activityID])), nil
}

func (s *admissionStoreInMemory) ClearActivity(_ context.Context, activityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.participants, activityID)
	delete(s.counters, activityID)
	return nil
}

var _ domain.AdmissionStore = (*admissionStoreInMemory)(nil)
