package finalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/flashsale/internal/metrics"
)

const aggregateTypeActivity = "activity"

// Strategy финализирует подтверждённую команду согласно типу кампании.
type Strategy interface {
	Finalize(ctx context.Context, cmd domain.CampaignCommand) (domain.ParticipationEntry, bool, error)
}

// fcfsStrategy фиксирует участие без списания стока: в кампании чистого
// распределения сток управляется эфемерным счётчиком до конца активности.
type fcfsStrategy struct {
	entries domain.EntryStore
}

// NewFCFSStrategy создаёт стратегию FIRST_COME_FIRST_SERVE.
func NewFCFSStrategy(entries domain.EntryStore) Strategy {
	return &fcfsStrategy{entries: entries}
}

func (s *fcfsStrategy) Finalize(ctx context.Context, cmd domain.CampaignCommand) (domain.ParticipationEntry, bool, error) {
	event, err := behaviorOutboxEvent(kafka.NewApprovedEvent(cmd.ActivityID, cmd.UserID, 0), cmd.ActivityID)
	if err != nil {
		return domain.ParticipationEntry{}, false, err
	}

	return s.entries.UpsertEntry(ctx, domain.EntryUpsert{
		ActivityID:    cmd.ActivityID,
		UserID:        cmd.UserID,
		ProductID:     cmd.ProductID,
		Quantity:      cmd.Quantity,
		Status:        domain.EntryStatusApproved,
		MarkProcessed: true,
		RequestedAt:   time.UnixMilli(cmd.Timestamp).UTC(),
		OutboxEvent:   event,
	})
}

// purchaseStrategy фиксирует покупку: запись участия и авторитетное
// списание стока выполняются одной транзакцией. Исчерпанный сток превращает
// заявку в REJECTED вместо отказа всей обработки.
type purchaseStrategy struct {
	entries domain.EntryStore
	metrics *metrics.CampaignMetrics
}

// NewPurchaseStrategy создаёт стратегию PURCHASE.
func NewPurchaseStrategy(entries domain.EntryStore, campaignMetrics *metrics.CampaignMetrics) Strategy {
	return &purchaseStrategy{entries: entries, metrics: campaignMetrics}
}

func (s *purchaseStrategy) Finalize(ctx context.Context, cmd domain.CampaignCommand) (domain.ParticipationEntry, bool, error) {
	event, err := behaviorOutboxEvent(kafka.NewPurchaseEvent(cmd), cmd.ActivityID)
	if err != nil {
		return domain.ParticipationEntry{}, false, err
	}

	entry, created, err := s.entries.UpsertEntry(ctx, domain.EntryUpsert{
		ActivityID:     cmd.ActivityID,
		UserID:         cmd.UserID,
		ProductID:      cmd.ProductID,
		Quantity:       cmd.Quantity,
		Status:         domain.EntryStatusApproved,
		MarkProcessed:  true,
		RequestedAt:    time.UnixMilli(cmd.Timestamp).UTC(),
		DecrementStock: true,
		OutboxEvent:    event,
	})
	if err == nil {
		if created && s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
		return entry, created, nil
	}
	if !errors.Is(err, domain.ErrStockExhausted) {
		return domain.ParticipationEntry{}, false, err
	}

	// Оплаченная заявка пришла позже, чем закончился авторитетный сток.
	// Фиксируем отказ долговечно, чтобы повторная доставка не пыталась снова.
	if s.metrics != nil {
		s.metrics.RecordStockExhausted()
	}
	return s.entries.UpsertEntry(ctx, domain.EntryUpsert{
		ActivityID:    cmd.ActivityID,
		UserID:        cmd.UserID,
		ProductID:     cmd.ProductID,
		Quantity:      cmd.Quantity,
		Status:        domain.EntryStatusRejected,
		MarkProcessed: true,
		RequestedAt:   time.UnixMilli(cmd.Timestamp).UTC(),
	})
}

func behaviorOutboxEvent(event kafka.BehaviorEvent, activityID int64) (*domain.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal behavior event: %w", err)
	}
	return &domain.OutboxMessage{
		AggregateType: aggregateTypeActivity,
		AggregateID:   strconv.FormatInt(activityID, 10),
		EventType:     string(event.EventType),
		Payload:       payload,
	}, nil
}
