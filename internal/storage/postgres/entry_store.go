package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type entryStore struct {
	db *sql.DB
}

// NewEntryStore создаёт PostgreSQL-реализацию EntryStore.
func NewEntryStore(store *Store) domain.EntryStore {
	return &entryStore{db: store.db}
}

// UpsertEntry выполняет финализацию одной транзакцией: find-or-create записи
// участия, обновление статуса/товара, списание стока и постановка события в
// outbox. Повторная доставка команды с тем же целевым статусом не меняет
// состояние; смена статуса (например, APPROVED после ранее зафиксированного
// REJECTED) обновляет найденную запись и проходит списание заново.
func (r *entryStore) UpsertEntry(ctx context.Context, upsert domain.EntryUpsert) (domain.ParticipationEntry, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, nil)
	if err != nil {
		return domain.ParticipationEntry{}, false, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, found, err := findEntryTx(opCtx, tx, upsert.ActivityID, upsert.UserID)
	if err != nil {
		return domain.ParticipationEntry{}, false, err
	}
	if found {
		if existing.Status == upsert.Status {
			if err = tx.Commit(); err != nil {
				return domain.ParticipationEntry{}, false, fmt.Errorf("commit upsert entry: %w", err)
			}
			return existing, false, nil
		}

		existing, err = updateEntryTx(opCtx, tx, existing, upsert)
		if err != nil {
			return domain.ParticipationEntry{}, false, err
		}
		if err = tx.Commit(); err != nil {
			return domain.ParticipationEntry{}, false, fmt.Errorf("commit upsert entry: %w", err)
		}
		return existing, false, nil
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

	var processedAt sql.NullTime
	if !entry.ProcessedAt.IsZero() {
		processedAt = sql.NullTime{Time: entry.ProcessedAt, Valid: true}
	}

	_, err = tx.ExecContext(opCtx, `
		INSERT INTO participation_entries (
			id, activity_id, user_id, product_id, status,
			requested_at, processed_at, info, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		entry.ID, entry.ActivityID, entry.UserID, entry.ProductID, string(entry.Status),
		entry.RequestedAt, processedAt, entry.Info, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Конкурентная вставка успела раньше; откатываемся к find-пути.
			_ = tx.Rollback()
			existing, err2 := r.FindEntry(ctx, upsert.ActivityID, upsert.UserID)
			if err2 != nil {
				return domain.ParticipationEntry{}, false, err2
			}
			err = nil
			return existing, false, nil
		}
		return domain.ParticipationEntry{}, false, fmt.Errorf("insert participation entry: %w", err)
	}

	if upsert.DecrementStock {
		if err = decrementStockTx(opCtx, tx, upsert.ProductID, int64(upsert.Quantity), now); err != nil {
			return domain.ParticipationEntry{}, false, err
		}
	}

	if upsert.OutboxEvent != nil {
		if err = enqueueOutboxTx(opCtx, tx, *upsert.OutboxEvent, now); err != nil {
			return domain.ParticipationEntry{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.ParticipationEntry{}, false, fmt.Errorf("commit upsert entry: %w", err)
	}

	return entry, true, nil
}

// updateEntryTx переводит найденную запись в целевой статус: обновляет товар
// и статус, при необходимости ставит отметку обработки, списывает сток и
// ставит событие в outbox той же транзакцией.
func updateEntryTx(ctx context.Context, tx *sql.Tx, existing domain.ParticipationEntry, upsert domain.EntryUpsert) (domain.ParticipationEntry, error) {
	now := time.Now().UTC()

	if upsert.DecrementStock {
		if err := decrementStockTx(ctx, tx, upsert.ProductID, int64(upsert.Quantity), now); err != nil {
			return domain.ParticipationEntry{}, err
		}
	}

	existing.ProductID = upsert.ProductID
	existing.Status = upsert.Status
	existing.UpdatedAt = now
	if upsert.MarkProcessed {
		existing.MarkProcessed(now)
	}

	var processedAt sql.NullTime
	if !existing.ProcessedAt.IsZero() {
		processedAt = sql.NullTime{Time: existing.ProcessedAt, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE participation_entries
		SET product_id = $2, status = $3, processed_at = $4, updated_at = $5
		WHERE id = $1
	`, existing.ID, existing.ProductID, string(existing.Status), processedAt, existing.UpdatedAt); err != nil {
		return domain.ParticipationEntry{}, fmt.Errorf("update participation entry: %w", err)
	}

	if upsert.OutboxEvent != nil {
		if err := enqueueOutboxTx(ctx, tx, *upsert.OutboxEvent, now); err != nil {
			return domain.ParticipationEntry{}, err
		}
	}

	return existing, nil
}

func (r *entryStore) FindEntry(ctx context.Context, activityID, userID int64) (domain.ParticipationEntry, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry, found, err := findEntryQuerier(opCtx, r.db, activityID, userID)
	if err != nil {
		return domain.ParticipationEntry{}, err
	}
	if !found {
		return domain.ParticipationEntry{}, domain.ErrEntryNotFound
	}
	return entry, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findEntryTx(ctx context.Context, tx *sql.Tx, activityID, userID int64) (domain.ParticipationEntry, bool, error) {
	return findEntryQuerier(ctx, tx, activityID, userID)
}

func findEntryQuerier(ctx context.Context, q querier, activityID, userID int64) (domain.ParticipationEntry, bool, error) {
	var (
		entry       domain.ParticipationEntry
		status      string
		processedAt sql.NullTime
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, activity_id, user_id, product_id, status,
		       requested_at, processed_at, info, created_at, updated_at
		FROM participation_entries
		WHERE activity_id = $1 AND user_id = $2
	`, activityID, userID).Scan(
		&entry.ID, &entry.ActivityID, &entry.UserID, &entry.ProductID, &status,
		&entry.RequestedAt, &processedAt, &entry.Info, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ParticipationEntry{}, false, nil
		}
		return domain.ParticipationEntry{}, false, fmt.Errorf("select participation entry: %w", err)
	}

	entry.Status = domain.EntryStatus(status)
	if processedAt.Valid {
		entry.ProcessedAt = processedAt.Time.UTC()
	}
	return entry, true, nil
}

// decrementStockTx списывает сток под пессимистичной блокировкой строки.
// Уход остатка в минус откатывает всю транзакцию финализации.
func decrementStockTx(ctx context.Context, tx *sql.Tx, productID, quantity int64, now time.Time) error {
	var stock int64
	err := tx.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("lock product row: %w", err)
	}

	if stock < quantity {
		return domain.ErrStockExhausted
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1
	`, productID, quantity, now); err != nil {
		return fmt.Errorf("decrement product stock: %w", err)
	}

	return nil
}

func enqueueOutboxTx(ctx context.Context, tx *sql.Tx, msg domain.OutboxMessage, now time.Time) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	); err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.EntryStore = (*entryStore)(nil)
