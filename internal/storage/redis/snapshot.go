package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// userSnapshotKey — ключ снимка профиля, наполняется внешним пайплайном
// синхронизации профилей.
func userSnapshotKey(userID int64) string {
	return fmt.Sprintf("userCache:%d", userID)
}

// UserSnapshot читает снимок профиля пользователя из общего кэша.
func (s *Store) UserSnapshot(ctx context.Context, userID int64) (domain.UserSnapshot, bool, error) {
	raw, ok, err := s.Get(ctx, userSnapshotKey(userID))
	if err != nil {
		return domain.UserSnapshot{}, false, err
	}
	if !ok {
		return domain.UserSnapshot{}, false, nil
	}

	var snapshot domain.UserSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.UserSnapshot{}, false, fmt.Errorf("decode user snapshot %d: %w", userID, err)
	}
	return snapshot, true, nil
}

var _ domain.UserSnapshotSource = (*Store)(nil)
