package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const lockPollInterval = 5 * time.Millisecond

// lockHold — владение блокировкой: токен держателя и момент истечения аренды.
type lockHold struct {
	owner   string
	expires time.Time
}

// lockerInMemory — in-memory реализация Locker с арендой. Семантика повторяет
// распределённую блокировку: ожидание до wait, автоматическое истечение
// аренды, освобождение на любом пути выхода. Снятие проверяет владельца:
// держатель, переживший свою аренду, не может удалить чужое владение.
type lockerInMemory struct {
	mu    sync.Mutex
	holds map[string]lockHold
}

// NewLocker создаёт in-memory реализацию Locker.
func NewLocker() domain.Locker {
	return &lockerInMemory{holds: make(map[string]lockHold)}
}

func (l *lockerInMemory) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		if l.tryAcquire(key, owner, lease) {
			break
		}
		if time.Now().After(deadline) {
			return domain.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	defer l.release(key, owner)
	return fn(ctx)
}

func (l *lockerInMemory) tryAcquire(key, owner string, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if hold, held := l.holds[key]; held && now.Before(hold.expires) {
		return false
	}
	l.holds[key] = lockHold{owner: owner, expires: now.Add(lease)}
	return true
}

// release снимает блокировку, только если ключом всё ещё владеет вызывающий:
// после истечения аренды ключ мог перейти следующему держателю.
func (l *lockerInMemory) release(key, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, held := l.holds[key]; held && hold.owner == owner {
		delete(l.holds, key)
	}
}

var _ domain.Locker = (*lockerInMemory)(nil)
