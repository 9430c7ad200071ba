package reconciler

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const (
	defaultInterval = 5 * time.Minute
	defaultLookback = 10 * time.Minute
)

// Options задают параметры пост-кампанной сверки.
type Options struct {
	// Interval — период между проходами.
	Interval time.Duration
	// Lookback — глубина окна поиска недавно закончившихся активностей.
	Lookback time.Duration
}

// Scheduler сверяет эфемерный счётчик допуска с авторитетным остатком после
// окончания активности: списывает проданное, чистит ключи кэша и помечает
// активность завершённой.
type Scheduler struct {
	activities domain.ActivityRepository
	products   domain.ProductRepository
	admission  domain.AdmissionStore
	opts       Options
	metrics    *metrics.CampaignMetrics
	logger     *log.Entry
}

// NewScheduler создаёт планировщик сверки остатков.
func NewScheduler(activities domain.ActivityRepository, products domain.ProductRepository, admission domain.AdmissionStore, campaignMetrics *metrics.CampaignMetrics, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}

	return &Scheduler{
		activities: activities,
		products:   products,
		admission:  admission,
		opts:       opts,
		metrics:    campaignMetrics,
		logger:     log.WithField("component", "stock-reconciler"),
	}
}

// Run запускает планировщик до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.WithFields(log.Fields{
		"interval": s.opts.Interval,
		"lookback": s.opts.Lookback,
	}).Info("stock reconciler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stock reconciler stopped")
			return
		case <-ticker.C:
			if err := s.ProcessOnce(ctx); err != nil {
				s.logger.WithError(err).Error("reconcile pass failed")
			}
		}
	}
}

// ProcessOnce сверяет все активности, чьё окно закончилось внутри lookback.
func (s *Scheduler) ProcessOnce(ctx context.Context) error {
	now := time.Now()
	ended, err := s.activities.ListEndedActive(ctx, now.Add(-s.opts.Lookback), now)
	if err != nil {
		return fmt.Errorf("list ended activities: %w", err)
	}

	for _, activity := range ended {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.reconcile(ctx, activity); err != nil {
			s.logger.WithError(err).WithField("activity_id", activity.ID).Error("failed to reconcile activity")
		}
	}

	return nil
}

func (s *Scheduler) reconcile(ctx context.Context, activity domain.ActivitySummary) error {
	sold, err := s.admission.CounterValue(ctx, activity.ID)
	if err != nil {
		return fmt.Errorf("read admission counter: %w", err)
	}

	// Счётчик растёт и на отказах за пределом лимита: продано не больше лимита.
	if activity.LimitCount > 0 && sold > activity.LimitCount {
		s.logger.WithFields(log.Fields{
			"activity_id": activity.ID,
			"counter":     sold,
			"limit":       activity.LimitCount,
		}).Warn("admission counter exceeds limit, clamping to limit")
		sold = activity.LimitCount
	}
	if sold < 0 {
		sold = 0
	}

	finalStock, err := s.products.SyncSoldCount(ctx, activity.ProductID, sold)
	if err != nil {
		return fmt.Errorf("sync sold count: %w", err)
	}

	if err := s.admission.ClearActivity(ctx, activity.ID); err != nil {
		return fmt.Errorf("clear activity keys: %w", err)
	}
	if err := s.activities.MarkEnded(ctx, activity.ID); err != nil {
		return fmt.Errorf("mark activity ended: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordActivitySynced()
	}
	s.logger.WithFields(log.Fields{
		"activity_id": activity.ID,
		"sold_count":  sold,
		"final_stock": finalStock,
	}).Info("activity stock reconciled")

	return nil
}
