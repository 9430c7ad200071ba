package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// Topics для Kafka
const (
	// TopicCampaignCommand — команды финализации после подтверждения оплаты.
	TopicCampaignCommand = "flashsale.campaign.command"
	// TopicPaymentRetry — выделенный канал восстановленных команд.
	TopicPaymentRetry = "flashsale.payment.retry"
	// TopicBehaviorEvents — исходящие события для аналитической подсистемы.
	TopicBehaviorEvents = "flashsale.behavior.events"
	// TopicDeadLetterQueue — Dead Letter Queue для failed messages.
	TopicDeadLetterQueue = "flashsale.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// BehaviorEventType определяет тип поведенческого события.
type BehaviorEventType string

const (
	// BehaviorEventApproved — пользователь допущен к активности.
	BehaviorEventApproved BehaviorEventType = "activity.approved"
	// BehaviorEventPurchase — подтверждённая покупка в рамках активности.
	BehaviorEventPurchase BehaviorEventType = "activity.purchase"
)

// BehaviorEvent — производное событие для аналитики (потребляется внешней
// подсистемой дашбордов).
type BehaviorEvent struct {
	EventType  BehaviorEventType `json:"event_type"`
	ActivityID int64             `json:"activity_id"`
	UserID     int64             `json:"user_id"`
	ProductID  int64             `json:"product_id,omitempty"`
	Order      int64             `json:"order,omitempty"`
	Quantity   int32             `json:"quantity,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewApprovedEvent создаёт событие допуска с номером слота.
func NewApprovedEvent(activityID, userID, order int64) BehaviorEvent {
	return BehaviorEvent{
		EventType:  BehaviorEventApproved,
		ActivityID: activityID,
		UserID:     userID,
		Order:      order,
		Timestamp:  time.Now().UTC(),
	}
}

// NewPurchaseEvent создаёт событие покупки по подтверждённой команде.
func NewPurchaseEvent(cmd domain.CampaignCommand) BehaviorEvent {
	return BehaviorEvent{
		EventType:  BehaviorEventPurchase,
		ActivityID: cmd.ActivityID,
		UserID:     cmd.UserID,
		ProductID:  cmd.ProductID,
		Quantity:   cmd.Quantity,
		Timestamp:  time.Now().UTC(),
	}
}
