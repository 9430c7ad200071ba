package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const (
	lockKeyPrefix    = "lock:"
	lockPollInterval = 50 * time.Millisecond
)

// releaseScript удаляет ключ блокировки, только если им всё ещё владеет
// вызывающий. Сравнение и удаление выполняются одной серверной операцией,
// поэтому чужая блокировка (после истечения аренды) не может быть снята.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock — распределённая блокировка с арендой поверх общего кэша.
type Lock struct {
	store  *Store
	logger *log.Entry
}

// NewLock создаёт Locker поверх подключения к общему кэшу.
func NewLock(store *Store, logger *log.Entry) *Lock {
	if logger == nil {
		logger = log.WithField("component", "distributed-lock")
	}
	return &Lock{store: store, logger: logger}
}

// WithLock захватывает блокировку key, выполняет fn и освобождает блокировку
// на любом пути выхода, включая панику. Ожидание захвата ограничено wait,
// аренда ограничена lease: упавший держатель не может остановить систему
// дольше, чем на lease.
func (l *Lock) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	lockKey := lockKeyPrefix + key

	acquired, err := l.acquire(ctx, lockKey, owner, wait, lease)
	if err != nil {
		return err
	}
	if !acquired {
		l.logger.WithField("lock_key", lockKey).Warn("failed to acquire distributed lock")
		return domain.ErrLockTimeout
	}

	l.logger.WithField("lock_key", lockKey).Debug("acquired distributed lock")
	defer l.release(lockKey, owner)

	return fn(ctx)
}

// acquire опрашивает хранилище до захвата либо до исчерпания wait.
func (l *Lock) acquire(ctx context.Context, lockKey, owner string, wait, lease time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.store.SetNX(ctx, lockKey, []byte(owner), lease)
		if err != nil {
			return false, fmt.Errorf("acquire lock %q: %w", lockKey, err)
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// release снимает блокировку независимо от состояния входного контекста:
// критическая секция могла завершиться его отменой.
func (l *Lock) release(lockKey, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnTimeout)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.store.client, []string{lockKey}, owner).Int64()
	if err != nil {
		l.logger.WithError(err).WithField("lock_key", lockKey).Warn("failed to release distributed lock")
		return
	}
	if deleted == 0 {
		// Аренда истекла раньше, чем завершилась секция; ключом владеет другой держатель.
		l.logger.WithError(domain.ErrLockNotHeld).WithField("lock_key", lockKey).Warn("lock lease expired before release")
		return
	}
	l.logger.WithField("lock_key", lockKey).Debug("released distributed lock")
}

var _ domain.Locker = (*Lock)(nil)
