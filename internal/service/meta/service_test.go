package meta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type stubCatalog struct {
	meta    domain.ActivityMeta
	err     error
	fetches int
}

func (s *stubCatalog) FetchActivity(context.Context, int64) (domain.ActivityMeta, error) {
	s.fetches++
	return s.meta, s.err
}

func catalogMeta() domain.ActivityMeta {
	return domain.ActivityMeta{
		ID:         1,
		LimitCount: 100,
		Status:     domain.ActivityStatusActive,
		ProductID:  3,
		Filters: []domain.EligibilityFilter{
			{Phase: domain.FilterPhaseFast, Type: "AGE", Operator: "GTE", Values: []string{"18"}},
		},
	}
}

func TestGetFetchesAndCaches(t *testing.T) {
	catalog := &stubCatalog{meta: catalogMeta()}
	svc := NewService(memory.NewKeyValueStore(), catalog, time.Minute)
	ctx := context.Background()

	first, err := svc.Get(ctx, 1)
	if err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	if !first.HasFastValidation {
		t.Fatal("validation phases must be derived on fetch")
	}

	second, err := svc.Get(ctx, 1)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if catalog.fetches != 1 {
		t.Fatalf("second get must hit the cache, fetches=%d", catalog.fetches)
	}
	if second.LimitCount != first.LimitCount || second.ProductID != first.ProductID {
		t.Fatalf("cached snapshot differs: %+v vs %+v", second, first)
	}
}

func TestGetNotFound(t *testing.T) {
	catalog := &stubCatalog{err: domain.ErrActivityNotFound}
	svc := NewService(memory.NewKeyValueStore(), catalog, time.Minute)

	if _, err := svc.Get(context.Background(), 1); !errors.Is(err, domain.ErrActivityNotFound) {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

func TestGetRefetchesCorruptCacheEntry(t *testing.T) {
	store := memory.NewKeyValueStore()
	catalog := &stubCatalog{meta: catalogMeta()}
	svc := NewService(store, catalog, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "activity:1:meta", []byte("{broken json"), 0); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	meta, err := svc.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get must survive corrupt cache, got %v", err)
	}
	if meta.LimitCount != 100 {
		t.Fatalf("expected fresh catalog snapshot, got %+v", meta)
	}
	if catalog.fetches != 1 {
		t.Fatalf("expected one catalog fetch, got %d", catalog.fetches)
	}

	// Повреждённая запись заменена валидной.
	if _, err := svc.Get(ctx, 1); err != nil {
		t.Fatalf("get after repair failed: %v", err)
	}
	if catalog.fetches != 1 {
		t.Fatalf("repaired cache must serve the second get, fetches=%d", catalog.fetches)
	}
}

func TestGetExpiredCacheRefetches(t *testing.T) {
	catalog := &stubCatalog{meta: catalogMeta()}
	svc := NewService(memory.NewKeyValueStore(), catalog, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := svc.Get(ctx, 1); err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := svc.Get(ctx, 1); err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if catalog.fetches != 2 {
		t.Fatalf("expired snapshot must be refetched, fetches=%d", catalog.fetches)
	}
}

func TestEvict(t *testing.T) {
	catalog := &stubCatalog{meta: catalogMeta()}
	svc := NewService(memory.NewKeyValueStore(), catalog, time.Minute)
	ctx := context.Background()

	if _, err := svc.Get(ctx, 1); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := svc.Evict(ctx, 1); err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if _, err := svc.Get(ctx, 1); err != nil {
		t.Fatalf("get after evict failed: %v", err)
	}
	if catalog.fetches != 2 {
		t.Fatalf("evicted snapshot must be refetched, fetches=%d", catalog.fetches)
	}
}
