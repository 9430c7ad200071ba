package domain

// ReservationTokenPayload — данные, привязанные к токену первой фазы.
// Токен существует ровно до подтверждения оплаты или естественного истечения TTL.
type ReservationTokenPayload struct {
	UserID       int64        `json:"user_id"`
	ActivityID   int64        `json:"activity_id"`
	ProductID    int64        `json:"product_id"`
	Quantity     int32        `json:"quantity"`
	CampaignType CampaignType `json:"campaign_type"`
}

// PaymentApprovalPayload — данные токена второй фазы. Копия payload резервации
// плюс ссылка на исходный токен, чтобы зачистить обе фазы после публикации команды.
type PaymentApprovalPayload struct {
	UserID           int64        `json:"user_id"`
	ActivityID       int64        `json:"activity_id"`
	ProductID        int64        `json:"product_id"`
	Quantity         int32        `json:"quantity"`
	CampaignType     CampaignType `json:"campaign_type"`
	ReservationToken string       `json:"reservation_token"`
}

// CampaignCommand — команда финализации, публикуемая в брокер после
// подтверждения оплаты. Та же форма ходит по retry-каналу восстановления.
type CampaignCommand struct {
	CampaignType CampaignType `json:"campaign_type"`
	ActivityID   int64        `json:"activity_id"`
	UserID       int64        `json:"user_id"`
	ProductID    int64        `json:"product_id"`
	Quantity     int32        `json:"quantity"`
	Timestamp    int64        `json:"timestamp"`
}

// Command собирает команду финализации из payload второй фазы.
func (p PaymentApprovalPayload) Command(timestampMilli int64) CampaignCommand {
	return CampaignCommand{
		CampaignType: p.CampaignType,
		ActivityID:   p.ActivityID,
		UserID:       p.UserID,
		ProductID:    p.ProductID,
		Quantity:     p.Quantity,
		Timestamp:    timestampMilli,
	}
}

// Grade — уровень лояльности пользователя из снимка профиля.
type Grade string

// UserSnapshot — снимок профиля пользователя в общем кэше, по которому
// выполняется быстрая проверка фильтров допуска.
type UserSnapshot struct {
	UserID int64 `json:"user_id"`
	Age    int   `json:"age"`
	Grade  Grade `json:"grade"`
}
