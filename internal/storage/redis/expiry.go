package redis

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// expiredEventPattern — канал нотификаций об истёкших ключах. Требует
// notify-keyspace-events с классами Ex на стороне сервера.
const expiredEventPattern = "__keyevent@*__:expired"

// ExpiredKeySubscriber слушает нотификации об истечении ключей и транслирует
// имена истёкших ключей в канал. Доставка нотификаций негарантированная,
// поэтому потребители обязаны быть идемпотентными, а авторитетная сверка
// выполняется отдельным процессом.
type ExpiredKeySubscriber struct {
	store  *Store
	logger *log.Entry
	out    chan string
	wg     sync.WaitGroup
}

// NewExpiredKeySubscriber создаёт подписчика с буфером buffer.
func NewExpiredKeySubscriber(store *Store, buffer int) *ExpiredKeySubscriber {
	if buffer <= 0 {
		buffer = 256
	}
	return &ExpiredKeySubscriber{
		store:  store,
		logger: log.WithField("component", "expired-key-subscriber"),
		out:    make(chan string, buffer),
	}
}

// Keys возвращает канал имён истёкших ключей. Канал закрывается после
// завершения подписки.
func (s *ExpiredKeySubscriber) Keys() <-chan string {
	return s.out
}

// Start запускает подписку; завершается по отмене ctx.
func (s *ExpiredKeySubscriber) Start(ctx context.Context) error {
	pubsub := s.store.client.PSubscribe(ctx, expiredEventPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to expired events: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case s.out <- msg.Payload:
				default:
					// Потребитель отстал; пропущенный ключ доберёт сверка остатков.
					s.logger.WithField("key", msg.Payload).Warn("expired key dropped, subscriber buffer full")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.WithField("pattern", expiredEventPattern).Info("expired key subscriber started")
	return nil
}

// Wait блокируется до завершения фоновой горутины подписки.
func (s *ExpiredKeySubscriber) Wait() {
	s.wg.Wait()
}
