package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// Ключи набора допущенных и счётчика допуска.
func participantsKey(activityID int64) string {
	return fmt.Sprintf("activity:%d:users", activityID)
}

func counterKey(activityID int64) string {
	return fmt.Sprintf("activity:%d:counter", activityID)
}

// AddParticipant атомарно добавляет пользователя в набор допущенных.
func (s *Store) AddParticipant(ctx context.Context, activityID, userID int64) (bool, error) {
	added, err := s.client.SAdd(ctx, participantsKey(activityID), strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("sadd participant: %w", err)
	}
	return added == 1, nil
}

// RemoveParticipant атомарно убирает пользователя из набора допущенных.
func (s *Store) RemoveParticipant(ctx context.Context, activityID, userID int64) error {
	if err := s.client.SRem(ctx, participantsKey(activityID), strconv.FormatInt(userID, 10)).Err(); err != nil {
		return fmt.Errorf("srem participant: %w", err)
	}
	return nil
}

// IncrementCounter увеличивает счётчик допуска и возвращает новое значение.
func (s *Store) IncrementCounter(ctx context.Context, activityID int64) (int64, error) {
	value, err := s.client.Incr(ctx, counterKey(activityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr counter: %w", err)
	}
	return value, nil
}

// DecrementCounter уменьшает счётчик допуска (компенсация по истечению токена).
func (s *Store) DecrementCounter(ctx context.Context, activityID int64) (int64, error) {
	value, err := s.client.Decr(ctx, counterKey(activityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("decr counter: %w", err)
	}
	return value, nil
}

// CounterValue возвращает текущее значение счётчика (0, если ключа нет).
func (s *Store) CounterValue(ctx context.Context, activityID int64) (int64, error) {
	raw, err := s.client.Get(ctx, counterKey(activityID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get counter: %w", err)
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", raw, err)
	}
	return value, nil
}

// ParticipantCount возвращает размер набора допущенных.
func (s *Store) ParticipantCount(ctx context.Context, activityID int64) (int64, error) {
	count, err := s.client.SCard(ctx, participantsKey(activityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("scard participants: %w", err)
	}
	return count, nil
}

// ClearActivity удаляет набор и счётчик после завершения кампании.
func (s *Store) ClearActivity(ctx context.Context, activityID int64) error {
	if err := s.client.Del(ctx, participantsKey(activityID), counterKey(activityID)).Err(); err != nil {
		return fmt.Errorf("clear activity keys: %w", err)
	}
	return nil
}

var _ domain.AdmissionStore = (*Store)(nil)
