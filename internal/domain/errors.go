package domain

import "errors"

var (
	// ErrActivityNotFound возвращается, если каталог не знает такую активность.
	ErrActivityNotFound = errors.New("campaign activity not found")
	// ErrActivityClosed — активность не принимает заявки в данный момент.
	ErrActivityClosed = errors.New("campaign activity is closed")
	// ErrDuplicatedEntry — пользователь уже занял слот в этой активности.
	ErrDuplicatedEntry = errors.New("user already admitted to activity")
	// ErrSoldOut — лимит слотов исчерпан.
	ErrSoldOut = errors.New("activity slots are sold out")
	// ErrTokenInvalid — токен не выпускался, истёк или уже использован.
	ErrTokenInvalid = errors.New("reservation token is invalid or expired")
	// ErrTokenOwnership — токен предъявил не тот пользователь, что его получил.
	ErrTokenOwnership = errors.New("reservation token does not belong to requester")
	// ErrLockTimeout — не удалось захватить распределённую блокировку за waitTime.
	ErrLockTimeout = errors.New("distributed lock acquisition timed out")
	// ErrLockNotHeld — попытка освободить блокировку, которой владеет другой держатель.
	ErrLockNotHeld = errors.New("distributed lock is not held by this owner")
	// ErrStockExhausted — списание увело бы остаток товара в минус.
	ErrStockExhausted = errors.New("product stock exhausted")
	// ErrProductNotFound — товар отсутствует в авторитетном хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrEntryNotFound — запись участия не найдена.
	ErrEntryNotFound = errors.New("participation entry not found")
	// ErrFailureLogNotFound — запись журнала сбоев не найдена.
	ErrFailureLogNotFound = errors.New("payment failure log not found")
	// ErrPublishUnavailable — брокер не принял команду после всех попыток.
	ErrPublishUnavailable = errors.New("command publish unavailable")
	// ErrValidationFailed — пользователь не прошёл фильтры допуска.
	ErrValidationFailed = errors.New("eligibility validation failed")
	// ErrUserDataMissing — в кэше нет снимка данных пользователя для валидации.
	ErrUserDataMissing = errors.New("user snapshot missing")
	// ErrOutboxNotFound — запись outbox не найдена.
	ErrOutboxNotFound = errors.New("outbox record not found")
)

// IsRetryable сообщает, имеет ли смысл повторить операцию при данной ошибке.
// Бизнес-отказы (дубликат, распроданность, владение токеном) повторять нельзя.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrDuplicatedEntry),
		errors.Is(err, ErrSoldOut),
		errors.Is(err, ErrActivityClosed),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenOwnership),
		errors.Is(err, ErrStockExhausted),
		errors.Is(err, ErrValidationFailed):
		return false
	}
	return true
}
