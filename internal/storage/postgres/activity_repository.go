package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

type activityRepository struct {
	db *sql.DB
}

// NewActivityRepository создаёт PostgreSQL-реализацию ActivityRepository.
func NewActivityRepository(store *Store) domain.ActivityRepository {
	return &activityRepository{db: store.db}
}

func (r *activityRepository) ListEndedActive(ctx context.Context, since, until time.Time) ([]domain.ActivitySummary, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(opCtx, `
		SELECT id, product_id, limit_count, status, end_at
		FROM campaign_activities
		WHERE status = $1 AND end_at > $2 AND end_at <= $3
		ORDER BY end_at ASC, id ASC
	`, string(domain.ActivityStatusActive), since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("list ended activities: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ActivitySummary, 0)
	for rows.Next() {
		var (
			summary domain.ActivitySummary
			status  string
			endAt   sql.NullTime
		)
		if err := rows.Scan(&summary.ID, &summary.ProductID, &summary.LimitCount, &status, &endAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		summary.Status = domain.ActivityStatus(status)
		if endAt.Valid {
			summary.EndAt = endAt.Time.UTC()
		}
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return result, nil
}

func (r *activityRepository) MarkEnded(ctx context.Context, activityID int64) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE campaign_activities
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, activityID, string(domain.ActivityStatusEnded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark activity ended: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrActivityNotFound
	}

	return nil
}

var _ domain.ActivityRepository = (*activityRepository)(nil)
