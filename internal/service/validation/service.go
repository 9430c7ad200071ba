package validation

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// Типы и операторы фильтров допуска, поддерживаемые быстрой фазой.
const (
	FilterTypeAge   = "AGE"
	FilterTypeGrade = "GRADE"

	OpGTE        = "GTE"
	OpLTE        = "LTE"
	OpBetween    = "BETWEEN"
	OpNotGTE     = "NOT_GTE"
	OpNotLTE     = "NOT_LTE"
	OpNotBetween = "NOT_BETWEEN"
	OpIn         = "IN"
	OpNotIn      = "NOT_IN"
)

// Service выполняет быструю фазу проверки фильтров по снимку профиля из
// общего кэша. Политика fail-closed: отсутствие снимка, неизвестный тип или
// некорректные значения фильтра закрывают допуск, а не открывают его.
type Service struct {
	snapshots domain.UserSnapshotSource
	logger    *log.Entry
}

// NewService создаёт сервис быстрой валидации.
func NewService(snapshots domain.UserSnapshotSource) *Service {
	return &Service{
		snapshots: snapshots,
		logger:    log.WithField("component", "fast-validation"),
	}
}

// ValidateFast прогоняет пользователя через FAST-фильтры активности.
// Возвращает nil при допуске, ErrUserDataMissing при отсутствии снимка,
// ErrValidationFailed при любом непройденном или некорректном фильтре.
func (s *Service) ValidateFast(ctx context.Context, meta *domain.ActivityMeta, userID int64) error {
	if !meta.HasFastValidation {
		return nil
	}

	snapshot, ok, err := s.snapshots.UserSnapshot(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user snapshot: %w", err)
	}
	if !ok {
		return domain.ErrUserDataMissing
	}

	for _, filter := range meta.Filters {
		if filter.Phase != domain.FilterPhaseFast {
			continue
		}
		if !s.apply(filter, snapshot) {
			s.logger.WithFields(log.Fields{
				"activity_id": meta.ID,
				"user_id":     userID,
				"filter_type": filter.Type,
				"operator":    filter.Operator,
			}).Debug("fast validation filter rejected user")
			return domain.ErrValidationFailed
		}
	}

	return nil
}

func (s *Service) apply(filter domain.EligibilityFilter, snapshot domain.UserSnapshot) bool {
	switch filter.Type {
	case FilterTypeAge:
		return applyAge(filter, snapshot.Age)
	case FilterTypeGrade:
		return applyGrade(filter, snapshot.Grade)
	default:
		return false
	}
}

func applyAge(filter domain.EligibilityFilter, age int) bool {
	switch filter.Operator {
	case OpGTE:
		bound, ok := intValue(filter.Values, 0)
		return ok && age >= bound
	case OpLTE:
		bound, ok := intValue(filter.Values, 0)
		return ok && age <= bound
	case OpBetween:
		low, okLow := intValue(filter.Values, 0)
		high, okHigh := intValue(filter.Values, 1)
		return okLow && okHigh && age >= low && age <= high
	case OpNotGTE:
		bound, ok := intValue(filter.Values, 0)
		return ok && !(age >= bound)
	case OpNotLTE:
		bound, ok := intValue(filter.Values, 0)
		return ok && !(age <= bound)
	case OpNotBetween:
		low, okLow := intValue(filter.Values, 0)
		high, okHigh := intValue(filter.Values, 1)
		return okLow && okHigh && (age < low || age > high)
	default:
		return false
	}
}

func applyGrade(filter domain.EligibilityFilter, grade domain.Grade) bool {
	switch filter.Operator {
	case OpIn:
		return containsGrade(filter.Values, grade)
	case OpNotIn:
		return len(filter.Values) > 0 && !containsGrade(filter.Values, grade)
	default:
		return false
	}
}

func containsGrade(values []string, grade domain.Grade) bool {
	for _, value := range values {
		if domain.Grade(value) == grade {
			return true
		}
	}
	return false
}

func intValue(values []string, idx int) (int, bool) {
	if idx >= len(values) {
		return 0, false
	}
	parsed, err := strconv.Atoi(values[idx])
	if err != nil {
		return 0, false
	}
	return parsed, true
}
