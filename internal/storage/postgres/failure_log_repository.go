package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type failureLogRepository struct {
	db *sql.DB
}

// NewFailureLogRepository создаёт PostgreSQL-реализацию FailureLogRepository.
func NewFailureLogRepository(store *Store) domain.FailureLogRepository {
	return &failureLogRepository{db: store.db}
}

func (r *failureLogRepository) Create(ctx context.Context, failureLog domain.PaymentFailureLog) (domain.PaymentFailureLog, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if failureLog.ID == "" {
		failureLog.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(opCtx, `
		INSERT INTO payment_failure_logs (
			id, user_id, payload, error_message, status,
			retry_count, next_retry_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		failureLog.ID, failureLog.UserID, failureLog.Payload, failureLog.ErrorMessage,
		string(failureLog.Status), failureLog.RetryCount, failureLog.NextRetryAt,
		failureLog.CreatedAt, failureLog.UpdatedAt,
	)
	if err != nil {
		return domain.PaymentFailureLog{}, fmt.Errorf("insert payment failure log: %w", err)
	}

	return failureLog, nil
}

// DuePending возвращает записи PENDING, чей срок повторной публикации настал.
// Старейшие идут первыми: застрявшие сбои не могут быть вытеснены свежими.
func (r *failureLogRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]domain.PaymentFailureLog, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(opCtx, `
		SELECT id, user_id, payload, error_message, status,
		       retry_count, next_retry_at, created_at, updated_at
		FROM payment_failure_logs
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, string(domain.FailureStatusPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due failure logs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentFailureLog, 0, limit)
	for rows.Next() {
		var (
			failureLog domain.PaymentFailureLog
			status     string
		)
		if err := rows.Scan(
			&failureLog.ID, &failureLog.UserID, &failureLog.Payload, &failureLog.ErrorMessage,
			&status, &failureLog.RetryCount, &failureLog.NextRetryAt,
			&failureLog.CreatedAt, &failureLog.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failure log row: %w", err)
		}
		failureLog.Status = domain.FailureStatus(status)
		result = append(result, failureLog)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure log rows: %w", err)
	}

	return result, nil
}

func (r *failureLogRepository) Update(ctx context.Context, failureLog domain.PaymentFailureLog) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE payment_failure_logs
		SET status = $2,
		    retry_count = $3,
		    next_retry_at = $4,
		    updated_at = $5
		WHERE id = $1
	`,
		failureLog.ID, string(failureLog.Status), failureLog.RetryCount,
		failureLog.NextRetryAt, failureLog.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment failure log: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrFailureLogNotFound
	}

	return nil
}

var _ domain.FailureLogRepository = (*failureLogRepository)(nil)
