package domain

import (
	"context"
	"time"
)

// AdmissionStore — атомарные примитивы общего кэша, на которых построен
// контроль допуска. Каждая операция неделима на стороне хранилища; других
// механизмов сериализации на этом пути нет.
type AdmissionStore interface {
	// AddParticipant добавляет пользователя в набор допущенных.
	// added=false означает, что пользователь уже был в наборе.
	AddParticipant(ctx context.Context, activityID, userID int64) (added bool, err error)
	// RemoveParticipant убирает пользователя из набора (откат/компенсация).
	RemoveParticipant(ctx context.Context, activityID, userID int64) error
	// IncrementCounter увеличивает счётчик допуска и возвращает новое значение.
	IncrementCounter(ctx context.Context, activityID int64) (int64, error)
	// DecrementCounter уменьшает счётчик (только путь компенсации по истечению).
	DecrementCounter(ctx context.Context, activityID int64) (int64, error)
	// CounterValue возвращает текущее значение счётчика.
	CounterValue(ctx context.Context, activityID int64) (int64, error)
	// ParticipantCount возвращает размер набора допущенных.
	ParticipantCount(ctx context.Context, activityID int64) (int64, error)
	// ClearActivity удаляет набор и счётчик после завершения кампании.
	ClearActivity(ctx context.Context, activityID int64) error
}

// KeyValueStore — операции общего кэша над произвольными ключами: токены,
// маркеры идемпотентности, кэш метаданных.
type KeyValueStore interface {
	// Set сохраняет значение с TTL (ttl<=0 — без истечения).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX сохраняет значение, только если ключа ещё нет.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Get возвращает значение; ok=false означает отсутствие или истечение ключа.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// GetDel атомарно возвращает значение и удаляет ключ; ровно один вызов
	// из конкурирующих получает ok=true.
	GetDel(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Delete удаляет ключ. Отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error
	// Refresh продлевает TTL существующего ключа.
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// Locker — распределённая взаимная блокировка с арендой. Сериализует
// критические секции персистенции, которые не выражаются одной атомарной
// операцией кэша.
type Locker interface {
	// WithLock захватывает блокировку key (ожидание до wait, аренда lease),
	// выполняет fn и гарантированно освобождает блокировку на любом пути
	// выхода. При невозможности захвата возвращает ErrLockTimeout, не вызывая fn.
	WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}

// EntryUpsert — параметры одной транзакции финализации: find-or-create записи
// участия, обновление статуса/товара и, при необходимости, списание стока и
// постановка события в outbox.
type EntryUpsert struct {
	ActivityID    int64
	UserID        int64
	ProductID     int64
	Quantity      int32
	Status        EntryStatus
	MarkProcessed bool
	RequestedAt   time.Time
	// DecrementStock включает авторитетное списание Product.Stock под
	// пессимистичной блокировкой; при уходе в минус вся транзакция
	// завершается ErrStockExhausted.
	DecrementStock bool
	// OutboxEvent ставится в outbox той же транзакцией при создании записи
	// или смене её статуса: повторная доставка команды с тем же целевым
	// статусом событие не дублирует.
	OutboxEvent *OutboxMessage
}

// EntryStore выполняет транзакцию финализации целиком.
type EntryStore interface {
	// UpsertEntry применяет EntryUpsert атомарно и возвращает итоговую запись
	// вместе с признаком её первичного создания.
	UpsertEntry(ctx context.Context, upsert EntryUpsert) (entry ParticipationEntry, created bool, err error)
	// FindEntry возвращает запись участия по паре (activityID, userID)
	// или ErrEntryNotFound.
	FindEntry(ctx context.Context, activityID, userID int64) (ParticipationEntry, error)
}

// ProductRepository — доступ к авторитетным остаткам товара.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, productID int64) (Product, error)
	// SyncSoldCount списывает из остатка итог эфемерного счётчика после
	// завершения кампании; перепроданность зажимается в ноль с предупреждением
	// на стороне вызывающего. Возвращает итоговый остаток.
	SyncSoldCount(ctx context.Context, productID, soldCount int64) (int64, error)
}

// FailureLogRepository хранит журнал сбоев оплаты.
type FailureLogRepository interface {
	// Create сохраняет новую запись и возвращает её с заполненным ID.
	Create(ctx context.Context, failureLog PaymentFailureLog) (PaymentFailureLog, error)
	// DuePending возвращает до limit записей PENDING с nextRetryAt <= now,
	// старейшие первыми.
	DuePending(ctx context.Context, now time.Time, limit int) ([]PaymentFailureLog, error)
	// Update применяет изменения статуса/счётчиков записи.
	Update(ctx context.Context, failureLog PaymentFailureLog) error
}

// ActivityRepository — индекс активностей для пост-кампанной сверки.
type ActivityRepository interface {
	// ListEndedActive возвращает активности со статусом active, чьё окно
	// закончилось в интервале (since, until].
	ListEndedActive(ctx context.Context, since, until time.Time) ([]ActivitySummary, error)
	// MarkEnded переводит активность в статус ended.
	MarkEnded(ctx context.Context, activityID int64) error
}

// CommandPublisher публикует команды финализации в брокер.
type CommandPublisher interface {
	// PublishCommand отправляет команду в основной канал финализации.
	PublishCommand(cmd CampaignCommand) error
	// PublishRetry отправляет команду в выделенный retry-канал восстановления.
	PublishRetry(cmd CampaignCommand) error
}

// OutboxMessage — отложенное событие аналитики, записываемое той же
// транзакцией, что и доменное изменение.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает backlog неопубликованных событий.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository хранит события до публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из outbox; обязан быть идемпотентным.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// UserSnapshotSource читает снимок профиля пользователя из общего кэша.
type UserSnapshotSource interface {
	// UserSnapshot возвращает снимок; ok=false — данных нет.
	UserSnapshot(ctx context.Context, userID int64) (snapshot UserSnapshot, ok bool, err error)
}
