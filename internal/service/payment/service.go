package payment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
)

const (
	publishAttempts    = 3
	publishBackoffStep = time.Second
)

// FailureCapturer сохраняет сбой публикации в долговечный журнал.
type FailureCapturer interface {
	CaptureFailure(ctx context.Context, userID int64, cmd domain.CampaignCommand, cause error) error
}

// Service реализует вторую фазу протокола: обмен токена резервации на токен
// одобрения оплаты и подтверждение оплаты публикацией команды финализации.
type Service struct {
	tokens    *token.Service
	publisher domain.CommandPublisher
	failures  FailureCapturer
	logger    *log.Entry
}

// NewService создаёт платёжный сервис.
func NewService(tokens *token.Service, publisher domain.CommandPublisher, failures FailureCapturer) *Service {
	return &Service{
		tokens:    tokens,
		publisher: publisher,
		failures:  failures,
		logger:    log.WithField("component", "payment-service"),
	}
}

// Prepare проверяет токен резервации и выпускает токен одобрения оплаты.
// Токен резервации при этом не гасится: он исчезнет вместе с подтверждением
// либо истечёт сам.
func (s *Service) Prepare(ctx context.Context, reservationToken string, userID int64) (string, error) {
	payload, err := s.tokens.ValidateReservation(ctx, reservationToken, userID)
	if err != nil {
		return "", err
	}

	approval := domain.PaymentApprovalPayload{
		UserID:           payload.UserID,
		ActivityID:       payload.ActivityID,
		ProductID:        payload.ProductID,
		Quantity:         payload.Quantity,
		CampaignType:     payload.CampaignType,
		ReservationToken: reservationToken,
	}

	approvalToken, err := s.tokens.IssueApproval(ctx, approval)
	if err != nil {
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"activity_id": payload.ActivityID,
		"user_id":     payload.UserID,
	}).Info("payment approval token issued")

	return approvalToken, nil
}

// Confirm гасит токен одобрения и публикует команду финализации. Публикация
// повторяется до publishAttempts раз; после исчерпания попыток команда
// сохраняется в журнал сбоев и вернётся через retry-канал восстановления.
func (s *Service) Confirm(ctx context.Context, approvalToken string, userID int64) error {
	payload, err := s.tokens.ConsumeApproval(ctx, approvalToken, userID)
	if err != nil {
		return err
	}

	cmd := payload.Command(time.Now().UnixMilli())

	if err := s.publishWithRetry(ctx, cmd); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"activity_id": cmd.ActivityID,
			"user_id":     cmd.UserID,
		}).Error("failed to publish campaign command, capturing failure")

		if s.failures != nil {
			if captureErr := s.failures.CaptureFailure(ctx, userID, cmd, err); captureErr != nil {
				return captureErr
			}
		}
		return domain.ErrPublishUnavailable
	}

	s.cleanup(ctx, payload)

	s.logger.WithFields(log.Fields{
		"activity_id": cmd.ActivityID,
		"user_id":     cmd.UserID,
	}).Info("campaign command published")

	return nil
}

func (s *Service) publishWithRetry(ctx context.Context, cmd domain.CampaignCommand) error {
	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		lastErr = s.publisher.PublishCommand(cmd)
		if lastErr == nil {
			if attempt > 1 {
				s.logger.WithField("attempt", attempt).Info("campaign command published after retry")
			}
			return nil
		}

		if attempt < publishAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * publishBackoffStep):
			}
		}
	}
	return lastErr
}

// cleanup зачищает токен первой фазы после успешной публикации.
func (s *Service) cleanup(ctx context.Context, payload domain.PaymentApprovalPayload) {
	if payload.ReservationToken == "" {
		return
	}
	if err := s.tokens.CleanupReservation(ctx, payload.ReservationToken); err != nil {
		s.logger.WithError(err).Warn("failed to cleanup reservation token after confirm")
	}
}
