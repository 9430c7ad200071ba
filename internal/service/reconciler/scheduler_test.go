package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type fixture struct {
	activities *memory.ActivityRepository
	products   *memory.ProductRepository
	admission  domain.AdmissionStore
	scheduler  *Scheduler
}

func newFixture() *fixture {
	activities := memory.NewActivityRepository()
	products := memory.NewProductRepository()
	admission := memory.NewAdmissionStore()
	scheduler := NewScheduler(activities, products, admission, nil, Options{Interval: time.Minute, Lookback: 10 * time.Minute})

	return &fixture{activities: activities, products: products, admission: admission, scheduler: scheduler}
}

func (f *fixture) seedEndedActivity(limit, stock, counter int64) {
	f.activities.Seed(domain.ActivitySummary{
		ID:         1,
		ProductID:  3,
		LimitCount: limit,
		Status:     domain.ActivityStatusActive,
		EndAt:      time.Now().Add(-time.Minute),
	})
	f.products.Seed(domain.Product{ID: 3, Name: "limited drop", Stock: stock})
	for i := int64(0); i < counter; i++ {
		_, _ = f.admission.IncrementCounter(context.Background(), 1)
	}
}

func TestProcessOnceSyncsSoldCount(t *testing.T) {
	f := newFixture()
	f.seedEndedActivity(100, 100, 60)
	ctx := context.Background()

	if err := f.scheduler.ProcessOnce(ctx); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	product, err := f.products.Get(ctx, 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 40 {
		t.Fatalf("expected final stock 40, got %d", product.Stock)
	}

	// Ключи кэша зачищены.
	counter, err := f.admission.CounterValue(ctx, 1)
	if err != nil {
		t.Fatalf("counter read failed: %v", err)
	}
	if counter != 0 {
		t.Fatalf("expected cleared counter, got %d", counter)
	}

	// Активность завершена и больше не попадает в сверку.
	ended, err := f.activities.ListEndedActive(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ended) != 0 {
		t.Fatalf("activity must be marked ended, still listed: %d", len(ended))
	}
}

func TestProcessOnceClampsCounterToLimit(t *testing.T) {
	f := newFixture()
	// Счётчик выше лимита: выжженные номера за пределом лимита не продавались.
	f.seedEndedActivity(100, 100, 150)
	ctx := context.Background()

	if err := f.scheduler.ProcessOnce(ctx); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	product, err := f.products.Get(ctx, 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", product.Stock)
	}
}

func TestProcessOnceStockNeverNegative(t *testing.T) {
	f := newFixture()
	// Продано больше, чем оставалось в авторитетном стоке.
	f.seedEndedActivity(100, 30, 60)
	ctx := context.Background()

	if err := f.scheduler.ProcessOnce(ctx); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	product, err := f.products.Get(ctx, 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("final stock must not go negative, got %d", product.Stock)
	}
}

func TestProcessOnceIgnoresActivitiesOutsideWindow(t *testing.T) {
	f := newFixture()
	f.products.Seed(domain.Product{ID: 3, Name: "limited drop", Stock: 100})

	// Закончилась слишком давно — за пределами lookback.
	f.activities.Seed(domain.ActivitySummary{
		ID:         1,
		ProductID:  3,
		LimitCount: 100,
		Status:     domain.ActivityStatusActive,
		EndAt:      time.Now().Add(-time.Hour),
	})
	// Ещё идёт.
	f.activities.Seed(domain.ActivitySummary{
		ID:         2,
		ProductID:  3,
		LimitCount: 100,
		Status:     domain.ActivityStatusActive,
		EndAt:      time.Now().Add(time.Hour),
	})

	if err := f.scheduler.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	product, err := f.products.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 100 {
		t.Fatalf("out-of-window activities must not touch stock, got %d", product.Stock)
	}
}
