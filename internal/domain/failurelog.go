package domain

import "time"

// FailureStatus описывает жизненный цикл записи журнала сбоев оплаты.
type FailureStatus string

const (
	// FailureStatusPending — сбой зафиксирован, ожидает повторной публикации.
	FailureStatusPending FailureStatus = "PENDING"
	// FailureStatusProcessing — планировщик забрал запись в работу.
	FailureStatusProcessing FailureStatus = "PROCESSING"
	// FailureStatusResolved — команда повторно опубликована в брокер.
	FailureStatusResolved FailureStatus = "RESOLVED"
	// FailureStatusFailed — исчерпан лимит попыток, требуется вмешательство оператора.
	FailureStatusFailed FailureStatus = "FAILED"
)

// maxFailureMessageLen ограничивает длину сохраняемого текста ошибки.
const maxFailureMessageLen = 1000

// PaymentFailureLog — долговечная запись о сбое персистенции уже оплаченной
// заявки. Создаётся в транзакции, независимой от упавшей, и никогда не
// удаляется автоматически.
type PaymentFailureLog struct {
	ID           string
	UserID       int64
	Payload      []byte
	ErrorMessage string
	Status       FailureStatus
	RetryCount   int
	NextRetryAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPaymentFailureLog создаёт запись в статусе PENDING, доступную для
// немедленного повтора.
func NewPaymentFailureLog(userID int64, payload []byte, cause error, now time.Time) PaymentFailureLog {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	if len(message) > maxFailureMessageLen {
		message = message[:maxFailureMessageLen]
	}

	return PaymentFailureLog{
		UserID:       userID,
		Payload:      payload,
		ErrorMessage: message,
		Status:       FailureStatusPending,
		RetryCount:   0,
		NextRetryAt:  now.UTC(),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// MarkProcessing переводит запись в работу перед публикацией.
func (l *PaymentFailureLog) MarkProcessing(now time.Time) {
	l.Status = FailureStatusProcessing
	l.UpdatedAt = now.UTC()
}

// Resolve фиксирует успешную публикацию в retry-канал. Критерий успеха —
// приём брокером, а не финальная персистенция: команда вернётся в обычный
// конвейер обработки.
func (l *PaymentFailureLog) Resolve(now time.Time) {
	l.Status = FailureStatusResolved
	l.UpdatedAt = now.UTC()
}

// RegisterRetryFailure учитывает неудачную публикацию: retryCount растёт
// монотонно, nextRetryAt сдвигается по экспоненте (2^retryCount минут),
// при достижении maxRetries запись становится FAILED навсегда.
func (l *PaymentFailureLog) RegisterRetryFailure(now time.Time, maxRetries int) {
	l.RetryCount++
	l.NextRetryAt = now.UTC().Add(time.Duration(1<<uint(l.RetryCount)) * time.Minute)
	l.UpdatedAt = now.UTC()

	if l.RetryCount >= maxRetries {
		l.Status = FailureStatusFailed
		return
	}
	l.Status = FailureStatusPending
}
