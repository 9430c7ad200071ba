package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// ActivityRepository — in-memory индекс активностей для пост-кампанной сверки.
type ActivityRepository struct {
	mu    sync.Mutex
	items map[int64]domain.ActivitySummary
}

// NewActivityRepository создаёт in-memory реализацию ActivityRepository.
func NewActivityRepository() *ActivityRepository {
	return &ActivityRepository{items: make(map[int64]domain.ActivitySummary)}
}

// Seed добавляет активность в индекс (локальная разработка и тесты).
func (r *ActivityRepository) Seed(summary domain.ActivitySummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[summary.ID] = summary
}

func (r *ActivityRepository) ListEndedActive(_ context.Context, since, until time.Time) ([]domain.ActivitySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.ActivitySummary, 0)
	for _, item := range r.items {
		if item.Status != domain.ActivityStatusActive {
			continue
		}
		if item.EndAt.IsZero() || !item.EndAt.After(since) || item.EndAt.After(until) {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].EndAt.Equal(result[j].EndAt) {
			return result[i].EndAt.Before(result[j].EndAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *ActivityRepository) MarkEnded(_ context.Context, activityID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[activityID]
	if !ok {
		return domain.ErrActivityNotFound
	}
	item.Status = domain.ActivityStatusEnded
	r.items[activityID] = item
	return nil
}

var _ domain.ActivityRepository = (*ActivityRepository)(nil)
