package finalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const (
	defaultLockWait  = 3 * time.Second
	defaultLockLease = 10 * time.Second
)

// FailureCapturer сохраняет сбой персистенции оплаченной команды.
type FailureCapturer interface {
	CaptureFailure(ctx context.Context, userID int64, cmd domain.CampaignCommand, cause error) error
}

// Options задают параметры финализатора.
type Options struct {
	// LockWait — максимум ожидания распределённой блокировки.
	LockWait time.Duration
	// LockLease — аренда блокировки на время транзакции финализации.
	LockLease time.Duration
}

// Service превращает подтверждённые команды в долговечные записи участия.
// Обработка идемпотентна: повторная доставка команды находит уже созданную
// запись и ничего не меняет.
type Service struct {
	strategies map[domain.CampaignType]Strategy
	locker     domain.Locker
	failures   FailureCapturer
	opts       Options
	metrics    *metrics.CampaignMetrics
	logger     *log.Entry
}

// NewService создаёт финализатор с картой стратегий по типу кампании.
func NewService(strategies map[domain.CampaignType]Strategy, locker domain.Locker, failures FailureCapturer, campaignMetrics *metrics.CampaignMetrics, opts Options) *Service {
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if opts.LockLease <= 0 {
		opts.LockLease = defaultLockLease
	}

	return &Service{
		strategies: strategies,
		locker:     locker,
		failures:   failures,
		opts:       opts,
		metrics:    campaignMetrics,
		logger:     log.WithField("component", "entry-finalizer"),
	}
}

// Finalize применяет стратегию под распределённой блокировкой пары
// (активность, пользователь): конкурирующие доставки сериализуются до
// уровня одной записи участия.
func (s *Service) Finalize(ctx context.Context, cmd domain.CampaignCommand) error {
	strategy, ok := s.strategies[cmd.CampaignType]
	if !ok {
		return fmt.Errorf("unsupported campaign type %q", cmd.CampaignType)
	}

	if s.metrics != nil {
		s.metrics.FinalizationStarted()
		defer s.metrics.FinalizationFinished()
	}
	started := time.Now()

	lockKey := fmt.Sprintf("entry:%d:%d", cmd.ActivityID, cmd.UserID)
	var (
		entry   domain.ParticipationEntry
		created bool
	)
	err := s.locker.WithLock(ctx, lockKey, s.opts.LockWait, s.opts.LockLease, func(ctx context.Context) error {
		var innerErr error
		entry, created, innerErr = strategy.Finalize(ctx, cmd)
		return innerErr
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEntryFinalized("error", time.Since(started))
		}
		return err
	}

	if s.metrics != nil {
		result := string(entry.Status)
		if !created {
			result = "duplicate"
		}
		s.metrics.RecordEntryFinalized(result, time.Since(started))
	}

	s.logger.WithFields(log.Fields{
		"activity_id": cmd.ActivityID,
		"user_id":     cmd.UserID,
		"status":      entry.Status,
		"created":     created,
	}).Info("campaign command finalized")

	return nil
}

// HandleMessage — обработчик Kafka-сообщений основного и retry-каналов.
// Сбой персистенции сохраняется в журнал восстановления, после чего
// сообщение подтверждается: дальнейшие повторы ведёт планировщик.
func (s *Service) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	cmd, err := kafka.ParseCampaignCommand(message)
	if err != nil {
		// Нечитаемое сообщение бессмысленно повторять.
		s.logger.WithError(err).WithField("topic", message.Topic).Error("dropping malformed campaign command")
		return nil
	}

	err = s.Finalize(ctx, *cmd)
	if err == nil {
		return nil
	}
	if !domain.IsRetryable(err) {
		s.logger.WithError(err).WithFields(log.Fields{
			"activity_id": cmd.ActivityID,
			"user_id":     cmd.UserID,
		}).Warn("campaign command rejected")
		return nil
	}

	if s.failures != nil {
		if captureErr := s.failures.CaptureFailure(ctx, cmd.UserID, *cmd, err); captureErr == nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"activity_id": cmd.ActivityID,
				"user_id":     cmd.UserID,
			}).Warn("finalization failed, captured for recovery")
			return nil
		}
	}

	return err
}
