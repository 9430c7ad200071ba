package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
)

const (
	processedMarkerPrefix = "processed:restore:"
	processedMarkerTTL    = time.Minute
)

// Listener компенсирует истёкшие резервации: по нотификации об истечении
// ключа RESERVATION_TOKEN:* освобождает слот (декремент счётчика и снятие
// членства). Это единственный путь, которому разрешён декремент счётчика.
type Listener struct {
	keys      <-chan string
	admission domain.AdmissionStore
	kv        domain.KeyValueStore
	metrics   *metrics.CampaignMetrics
	logger    *log.Entry
}

// NewListener создаёт слушателя истечений поверх канала имён истёкших ключей.
func NewListener(keys <-chan string, admission domain.AdmissionStore, kv domain.KeyValueStore, campaignMetrics *metrics.CampaignMetrics) *Listener {
	return &Listener{
		keys:      keys,
		admission: admission,
		kv:        kv,
		metrics:   campaignMetrics,
		logger:    log.WithField("component", "expiry-listener"),
	}
}

// Run читает канал до его закрытия или отмены контекста.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("expiry listener started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("expiry listener stopped")
			return
		case key, ok := <-l.keys:
			if !ok {
				l.logger.Info("expired key channel closed")
				return
			}
			if err := l.HandleExpiredKey(ctx, key); err != nil {
				l.logger.WithError(err).WithField("key", key).Error("failed to process expired key")
			}
		}
	}
}

// HandleExpiredKey обрабатывает одно истечение. Нотификации могут
// дублироваться, поэтому перед компенсацией ставится маркер идемпотентности:
// ровно один обработчик на токен выполняет освобождение слота.
func (l *Listener) HandleExpiredKey(ctx context.Context, key string) error {
	if !strings.HasPrefix(key, token.ReservationKeyPrefix) {
		return nil
	}
	expiredToken := strings.TrimPrefix(key, token.ReservationKeyPrefix)

	identity, err := token.ParseToken(expiredToken)
	if err != nil {
		return fmt.Errorf("parse expired token: %w", err)
	}

	acquired, err := l.kv.SetNX(ctx, processedMarkerPrefix+expiredToken, []byte("1"), processedMarkerTTL)
	if err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	if !acquired {
		return nil
	}

	if _, err := l.admission.DecrementCounter(ctx, identity.ActivityID); err != nil {
		return fmt.Errorf("release slot counter: %w", err)
	}
	if err := l.admission.RemoveParticipant(ctx, identity.ActivityID, identity.UserID); err != nil {
		return fmt.Errorf("remove expired participant: %w", err)
	}

	if l.metrics != nil {
		l.metrics.RecordSlotReleased()
	}
	l.logger.WithFields(log.Fields{
		"activity_id": identity.ActivityID,
		"user_id":     identity.UserID,
	}).Info("expired reservation compensated")

	return nil
}
