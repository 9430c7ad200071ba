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

// Service сохраняет сбои публикации оплаченных команд в долговечный журнал.
// Запись выполняется вне упавшей операции, поэтому сам факт сбоя не может
// потерять её.
type Service struct {
	repo    domain.FailureLogRepository
	metrics *metrics.CampaignMetrics
	logger  *log.Entry
}

// NewService создаёт сервис журнала сбоев.
func NewService(repo domain.FailureLogRepository, campaignMetrics *metrics.CampaignMetrics) *Service {
	return &Service{
		repo:    repo,
		metrics: campaignMetrics,
		logger:  log.WithField("component", "payment-recovery"),
	}
}

// CaptureFailure сохраняет упавшую команду вместе с текстом причины.
func (s *Service) CaptureFailure(ctx context.Context, userID int64, cmd domain.CampaignCommand, cause error) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal failed command: %w", err)
	}

	failureLog := domain.NewPaymentFailureLog(userID, payload, cause, time.Now())
	created, err := s.repo.Create(ctx, failureLog)
	if err != nil {
		return fmt.Errorf("persist payment failure: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordFailureCaptured()
	}
	s.logger.WithFields(log.Fields{
		"failure_id":  created.ID,
		"activity_id": cmd.ActivityID,
		"user_id":     userID,
	}).Warn("payment failure captured")

	return nil
}
