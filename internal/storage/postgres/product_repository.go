package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.db}
}

func (r *productRepository) Get(ctx context.Context, productID int64) (domain.Product, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(opCtx, `
		SELECT id, name, stock, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Name, &product.Stock, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	return product, nil
}

// SyncSoldCount списывает из остатка итог эфемерного счётчика. Списание
// выполняется под блокировкой строки; итог ниже нуля зажимается в ноль.
func (r *productRepository) SyncSoldCount(ctx context.Context, productID, soldCount int64) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stock int64
	err = tx.QueryRowContext(opCtx, `
		SELECT stock FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrProductNotFound
			return 0, err
		}
		return 0, fmt.Errorf("lock product row: %w", err)
	}

	finalStock := stock - soldCount
	if finalStock < 0 {
		finalStock = 0
	}

	if _, err = tx.ExecContext(opCtx, `
		UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1
	`, productID, finalStock, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("sync product stock: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sync stock: %w", err)
	}

	return finalStock, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
