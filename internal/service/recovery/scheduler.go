package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultBatchSize  = 10
	defaultMaxRetries = 5
)

// SchedulerOptions задают параметры планировщика восстановления.
type SchedulerOptions struct {
	// Interval — период между проходами по журналу.
	Interval time.Duration
	// BatchSize — максимум записей за один проход.
	BatchSize int
	// MaxRetries — потолок попыток, после которого запись становится FAILED.
	MaxRetries int
}

// SchedulerOption настраивает планировщик.
type SchedulerOption func(*SchedulerOptions)

// WithInterval задаёт период проходов.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(o *SchedulerOptions) { o.Interval = interval }
}

// WithBatchSize задаёт размер пачки.
func WithBatchSize(size int) SchedulerOption {
	return func(o *SchedulerOptions) { o.BatchSize = size }
}

// WithMaxRetries задаёт потолок попыток.
func WithMaxRetries(maxRetries int) SchedulerOption {
	return func(o *SchedulerOptions) { o.MaxRetries = maxRetries }
}

// Scheduler периодически перебирает зрелые PENDING-записи журнала сбоев и
// публикует их в retry-канал. Критерий успеха — приём команды брокером:
// дальше она возвращается в обычный конвейер финализации.
type Scheduler struct {
	repo      domain.FailureLogRepository
	publisher domain.CommandPublisher
	opts      SchedulerOptions
	metrics   *metrics.CampaignMetrics
	logger    *log.Entry
}

// NewScheduler создаёт планировщик восстановления.
func NewScheduler(repo domain.FailureLogRepository, publisher domain.CommandPublisher, campaignMetrics *metrics.CampaignMetrics, opts ...SchedulerOption) *Scheduler {
	options := SchedulerOptions{
		Interval:   defaultInterval,
		BatchSize:  defaultBatchSize,
		MaxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Interval <= 0 {
		options.Interval = defaultInterval
	}
	if options.BatchSize <= 0 {
		options.BatchSize = defaultBatchSize
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = defaultMaxRetries
	}

	return &Scheduler{
		repo:      repo,
		publisher: publisher,
		opts:      options,
		metrics:   campaignMetrics,
		logger:    log.WithField("component", "recovery-scheduler"),
	}
}

// Run запускает планировщик до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.WithFields(log.Fields{
		"interval":   s.opts.Interval,
		"batch_size": s.opts.BatchSize,
	}).Info("recovery scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery scheduler stopped")
			return
		case <-ticker.C:
			if err := s.ProcessOnce(ctx); err != nil {
				s.logger.WithError(err).Error("recovery pass failed")
			}
		}
	}
}

// ProcessOnce выполняет один проход: забирает до BatchSize зрелых записей
// (старейшие первыми) и пытается опубликовать каждую.
func (s *Scheduler) ProcessOnce(ctx context.Context) error {
	due, err := s.repo.DuePending(ctx, time.Now(), s.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("load due failure logs: %w", err)
	}

	for _, failureLog := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.processOne(ctx, failureLog)
	}

	return nil
}

// processOne прогоняет одну запись через PROCESSING и завершает её
// RESOLVED либо возвращает в PENDING с экспоненциальной задержкой.
func (s *Scheduler) processOne(ctx context.Context, failureLog domain.PaymentFailureLog) {
	entry := s.logger.WithFields(log.Fields{
		"failure_id":  failureLog.ID,
		"retry_count": failureLog.RetryCount,
	})

	failureLog.MarkProcessing(time.Now())
	if err := s.repo.Update(ctx, failureLog); err != nil {
		entry.WithError(err).Error("failed to mark failure log processing")
		return
	}

	if err := s.republish(failureLog); err != nil {
		entry.WithError(err).Warn("retry publish failed")

		failureLog.RegisterRetryFailure(time.Now(), s.opts.MaxRetries)
		if failureLog.Status == domain.FailureStatusFailed {
			entry.Error("failure log exhausted retry budget")
			if s.metrics != nil {
				s.metrics.RecordRetryExhausted()
			}
		}
		if updateErr := s.repo.Update(ctx, failureLog); updateErr != nil {
			entry.WithError(updateErr).Error("failed to persist retry failure")
		}
		return
	}

	failureLog.Resolve(time.Now())
	if err := s.repo.Update(ctx, failureLog); err != nil {
		entry.WithError(err).Error("failed to mark failure log resolved")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordRetryPublished()
	}
	entry.Info("failed payment republished to retry channel")
}

func (s *Scheduler) republish(failureLog domain.PaymentFailureLog) error {
	var cmd domain.CampaignCommand
	if err := json.Unmarshal(failureLog.Payload, &cmd); err != nil {
		return fmt.Errorf("decode stored command: %w", err)
	}
	return s.publisher.PublishRetry(cmd)
}
