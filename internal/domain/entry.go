package domain

import "time"

// EntryStatus описывает состояние записи участия.
type EntryStatus string

const (
	// EntryStatusPending — заявка принята, подтверждение оплаты ещё не обработано.
	EntryStatusPending EntryStatus = "PENDING"
	// EntryStatusApproved — оплата подтверждена, участие зафиксировано.
	EntryStatusApproved EntryStatus = "APPROVED"
	// EntryStatusRejected — заявка отклонена на этапе финализации.
	EntryStatusRejected EntryStatus = "REJECTED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusPending, EntryStatusApproved, EntryStatusRejected:
		return true
	default:
		return false
	}
}

// ParticipationEntry — долговечная запись участия пользователя в активности.
// Уникальна по паре (ActivityID, UserID).
type ParticipationEntry struct {
	ID          string
	ActivityID  int64
	UserID      int64
	ProductID   int64
	Status      EntryStatus
	RequestedAt time.Time
	ProcessedAt time.Time
	Info        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarkProcessed фиксирует момент обработки записи.
func (e *ParticipationEntry) MarkProcessed(now time.Time) {
	e.ProcessedAt = now.UTC()
}

// Product — авторитетная запись товара. Поле Stock списывается только под
// пессимистичной блокировкой строки.
type Product struct {
	ID        int64
	Name      string
	Stock     int64
	UpdatedAt time.Time
}
