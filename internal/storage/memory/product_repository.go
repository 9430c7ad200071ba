package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// ProductRepository — in-memory реализация доступа к остаткам товара.
type ProductRepository struct {
	mu    sync.Mutex
	items map[int64]domain.Product
}

// NewProductRepository создаёт in-memory репозиторий товаров.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{items: make(map[int64]domain.Product)}
}

// Seed наполняет репозиторий товаром (локальная разработка и тесты).
func (r *ProductRepository) Seed(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[product.ID] = product
}

func (r *ProductRepository) Get(_ context.Context, productID int64) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *ProductRepository) SyncSoldCount(_ context.Context, productID, soldCount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}

	finalStock := product.Stock - soldCount
	if finalStock < 0 {
		finalStock = 0
	}
	product.Stock = finalStock
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product

	return finalStock, nil
}

// decrement атомарно списывает quantity; используется in-memory EntryStore.
func (r *ProductRepository) decrement(productID, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock < quantity {
		return domain.ErrStockExhausted
	}
	product.Stock -= quantity
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product
	return nil
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
