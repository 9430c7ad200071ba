package admission

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

// Outcome — исход попытки резервации слота.
type Outcome string

const (
	// OutcomeSuccess — пользователь получил слот и порядковый номер.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeDuplicated — пользователь уже занял слот в этой активности.
	OutcomeDuplicated Outcome = "DUPLICATED"
	// OutcomeSoldOut — лимит слотов исчерпан.
	OutcomeSoldOut Outcome = "SOLD_OUT"
	// OutcomeClosed — активность не принимает заявки в данный момент.
	OutcomeClosed Outcome = "CLOSED"
)

// ReservationResult — итог первой фазы протокола.
type ReservationResult struct {
	Outcome Outcome
	// Order — порядковый номер допуска (только при OutcomeSuccess).
	// Номера монотонны, но не плотны: слоты, освобождённые компенсацией,
	// не переиспользуют свои номера.
	Order int64
	Meta  domain.ActivityMeta
}

// MetaProvider отдаёт снимок правил активности.
type MetaProvider interface {
	Get(ctx context.Context, activityID int64) (domain.ActivityMeta, error)
}

// FastValidator выполняет быструю фазу проверки фильтров допуска.
type FastValidator interface {
	ValidateFast(ctx context.Context, meta *domain.ActivityMeta, userID int64) error
}

// ApprovalNotifier публикует поведенческое событие о допуске (best-effort).
type ApprovalNotifier interface {
	NotifyApproved(activityID, userID, order int64) error
}

// Service реализует контроль допуска: точка строгой сериализации — атомарные
// операции AdmissionStore, никакой другой координации на горячем пути нет.
type Service struct {
	store     domain.AdmissionStore
	meta      MetaProvider
	validator FastValidator
	notifier  ApprovalNotifier
	metrics   *metrics.CampaignMetrics
	logger    *log.Entry
}

// NewService создаёт сервис допуска. validator и notifier могут быть nil.
func NewService(store domain.AdmissionStore, meta MetaProvider, validator FastValidator, notifier ApprovalNotifier, campaignMetrics *metrics.CampaignMetrics) *Service {
	return &Service{
		store:     store,
		meta:      meta,
		validator: validator,
		notifier:  notifier,
		metrics:   campaignMetrics,
		logger:    log.WithField("component", "admission-service"),
	}
}

// Reserve выполняет первую фазу: membership-проверка, затем инкремент
// счётчика. Порядок фиксирован — сначала набор, потом счётчик, — поэтому
// один пользователь не может занять два слота даже при конкурентных запросах.
func (s *Service) Reserve(ctx context.Context, activityID, userID int64) (ReservationResult, error) {
	started := time.Now()
	result, err := s.reserve(ctx, activityID, userID)

	if s.metrics != nil {
		outcome := "ERROR"
		if err == nil {
			outcome = string(result.Outcome)
		}
		s.metrics.RecordReservation(outcome, time.Since(started))
	}
	return result, err
}

func (s *Service) reserve(ctx context.Context, activityID, userID int64) (ReservationResult, error) {
	meta, err := s.meta.Get(ctx, activityID)
	if err != nil {
		return ReservationResult{}, err
	}

	if !meta.IsParticipatable(time.Now()) {
		return ReservationResult{Outcome: OutcomeClosed, Meta: meta}, nil
	}

	if s.validator != nil {
		if err := s.validator.ValidateFast(ctx, &meta, userID); err != nil {
			return ReservationResult{}, err
		}
	}

	added, err := s.store.AddParticipant(ctx, activityID, userID)
	if err != nil {
		return ReservationResult{}, err
	}
	if !added {
		return ReservationResult{Outcome: OutcomeDuplicated, Meta: meta}, nil
	}

	order, err := s.store.IncrementCounter(ctx, activityID)
	if err != nil {
		// Членство уже зафиксировано, а номер не получен: снимаем пользователя,
		// чтобы он мог повторить запрос.
		if rollbackErr := s.store.RemoveParticipant(ctx, activityID, userID); rollbackErr != nil {
			s.logger.WithError(rollbackErr).WithFields(log.Fields{
				"activity_id": activityID,
				"user_id":     userID,
			}).Error("failed to rollback membership after counter error")
		}
		return ReservationResult{}, err
	}

	if order > meta.LimitCount {
		// Лимит исчерпан. Счётчик не откатывается: номера за пределом лимита
		// остаются выжженными, членство снимается для честного ответа.
		if err := s.store.RemoveParticipant(ctx, activityID, userID); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"activity_id": activityID,
				"user_id":     userID,
			}).Error("failed to remove participant after sold out")
		}
		return ReservationResult{Outcome: OutcomeSoldOut, Meta: meta}, nil
	}

	s.announceApproved(activityID, userID, order)

	return ReservationResult{Outcome: OutcomeSuccess, Order: order, Meta: meta}, nil
}

// RollbackReservation снимает членство пользователя, если после успешной
// резервации не удалось выпустить токен. Счётчик при этом не трогаем:
// декремент разрешён только компенсатору по истечению токена.
func (s *Service) RollbackReservation(ctx context.Context, activityID, userID int64) error {
	return s.store.RemoveParticipant(ctx, activityID, userID)
}

func (s *Service) announceApproved(activityID, userID, order int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyApproved(activityID, userID, order); err != nil {
		// Аналитика не влияет на исход допуска.
		s.logger.WithError(err).WithFields(log.Fields{
			"activity_id": activityID,
			"user_id":     userID,
		}).Warn("failed to publish approval event")
	}
}
