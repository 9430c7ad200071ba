package domain

import "time"

// ActivityStatus описывает жизненный цикл кампании-активности в каталоге.
type ActivityStatus string

const (
	// ActivityStatusDraft — активность создана, но ещё не опубликована.
	ActivityStatusDraft ActivityStatus = "draft"
	// ActivityStatusActive — активность опубликована и принимает заявки.
	ActivityStatusActive ActivityStatus = "active"
	// ActivityStatusEnded — окно активности закрыто, счётчик сверен с остатками.
	ActivityStatusEnded ActivityStatus = "ended"
	// ActivityStatusCanceled — активность отменена владельцем каталога.
	ActivityStatusCanceled ActivityStatus = "canceled"
)

// IsActive сообщает, принимает ли активность новые заявки.
func (s ActivityStatus) IsActive() bool {
	return s == ActivityStatusActive
}

// CampaignType определяет стратегию обработки подтверждённых заявок.
type CampaignType string

const (
	// CampaignTypeFirstComeFirstServe — чистое распределение слотов: сток управляется
	// эфемерным счётчиком до конца активности.
	CampaignTypeFirstComeFirstServe CampaignType = "FIRST_COME_FIRST_SERVE"
	// CampaignTypePurchase — заявка завершается покупкой, сток списывается сразу.
	CampaignTypePurchase CampaignType = "PURCHASE"
)

// PurchaseRelated сообщает, требует ли тип кампании авторитетного списания стока.
func (t CampaignType) PurchaseRelated() bool {
	return t == CampaignTypePurchase
}

// Фазы проверки фильтров допуска.
const (
	FilterPhaseFast  = "FAST"
	FilterPhaseHeavy = "HEAVY"
)

// EligibilityFilter описывает одно условие допуска из каталога.
type EligibilityFilter struct {
	Phase    string   `json:"phase"`
	Type     string   `json:"type"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// ActivityMeta — неизменяемый снимок правил активности из каталога.
// Кэшируется с TTL, локально никогда не мутируется.
type ActivityMeta struct {
	ID                 int64               `json:"id"`
	CampaignID         int64               `json:"campaign_id"`
	LimitCount         int64               `json:"limit_count"`
	Status             ActivityStatus      `json:"status"`
	StartAt            time.Time           `json:"start_at"`
	EndAt              time.Time           `json:"end_at"`
	Filters            []EligibilityFilter `json:"filters"`
	HasFastValidation  bool                `json:"has_fast_validation"`
	HasHeavyValidation bool                `json:"has_heavy_validation"`
	ProductID          int64               `json:"product_id"`
	CampaignType       CampaignType        `json:"campaign_type"`
}

// IsParticipatable проверяет, открыта ли активность для заявки в момент now:
// статус активен, лимит положительный, окно старта/окончания не нарушено.
// Нулевые StartAt/EndAt означают отсутствие соответствующей границы.
func (m *ActivityMeta) IsParticipatable(now time.Time) bool {
	if m.LimitCount <= 0 {
		return false
	}
	if !m.Status.IsActive() {
		return false
	}
	if !m.StartAt.IsZero() && now.Before(m.StartAt) {
		return false
	}
	if !m.EndAt.IsZero() && now.After(m.EndAt) {
		return false
	}
	return true
}

// DeriveValidationPhases выставляет флаги hasFastValidation/hasHeavyValidation
// по фазам фильтров. Вызывается после загрузки снимка из каталога.
func (m *ActivityMeta) DeriveValidationPhases() {
	m.HasFastValidation = false
	m.HasHeavyValidation = false
	for _, filter := range m.Filters {
		switch filter.Phase {
		case FilterPhaseFast:
			m.HasFastValidation = true
		case FilterPhaseHeavy:
			m.HasHeavyValidation = true
		}
		if m.HasFastValidation && m.HasHeavyValidation {
			return
		}
	}
}

// ActivitySummary — строка индекса активностей, который ведёт ядро для
// пост-кампанной сверки (не CRUD каталога).
type ActivitySummary struct {
	ID         int64
	ProductID  int64
	LimitCount int64
	Status     ActivityStatus
	EndAt      time.Time
}
