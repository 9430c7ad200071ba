package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// failureLogRepositoryInMemory — in-memory журнал сбоев оплаты.
type failureLogRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.PaymentFailureLog
}

// NewFailureLogRepository создаёт in-memory реализацию FailureLogRepository.
func NewFailureLogRepository() domain.FailureLogRepository {
	return &failureLogRepositoryInMemory{items: make(map[string]domain.PaymentFailureLog)}
}

func (r *failureLogRepositoryInMemory) Create(_ context.Context, failureLog domain.PaymentFailureLog) (domain.PaymentFailureLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if failureLog.ID == "" {
		failureLog.ID = uuid.NewString()
	}
	r.items[failureLog.ID] = failureLog
	return failureLog, nil
}

func (r *failureLogRepositoryInMemory) DuePending(_ context.Context, now time.Time, limit int) ([]domain.PaymentFailureLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	due := make([]domain.PaymentFailureLog, 0, len(r.items))
	for _, item := range r.items {
		if item.Status == domain.FailureStatusPending && !item.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *failureLogRepositoryInMemory) Update(_ context.Context, failureLog domain.PaymentFailureLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[failureLog.ID]; !ok {
		return domain.ErrFailureLogNotFound
	}
	r.items[failureLog.ID] = failureLog
	return nil
}

var _ domain.FailureLogRepository = (*failureLogRepositoryInMemory)(nil)
