package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type stubOutboxPublisher struct {
	failures  int
	published []domain.OutboxMessage
}

func (s *stubOutboxPublisher) Publish(event domain.OutboxMessage) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published = append(s.published, event)
	return nil
}

func enqueue(t *testing.T, repo *memory.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "activity",
		AggregateID:   "7",
		EventType:     eventType,
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return msg
}

func TestProcessOncePublishesPending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubOutboxPublisher{}
	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))

	enqueue(t, repo, "ENTRY_APPROVED")
	enqueue(t, repo, "PURCHASE_CONFIRMED")

	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(publisher.published))
	}
	// Порядок публикации — старейшие первыми.
	if publisher.published[0].EventType != "ENTRY_APPROVED" {
		t.Fatalf("unexpected publish order: %s first", publisher.published[0].EventType)
	}

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}
}

func TestProcessOnceRetriesTransientFailure(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubOutboxPublisher{failures: 2}
	worker := NewWorker(repo, publisher, WithMaxAttempts(3), WithRetryBaseDelay(time.Millisecond))

	enqueue(t, repo, "ENTRY_APPROVED")
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 1 {
		t.Fatalf("expected publish after retries, got %d", len(publisher.published))
	}
}

func TestProcessOnceMarksFailedAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubOutboxPublisher{failures: 100}
	dlq := &stubOutboxPublisher{}
	worker := NewWorker(repo, publisher,
		WithMaxAttempts(2),
		WithRetryBaseDelay(time.Millisecond),
		WithDLQPublisher(dlq),
	)

	msg := enqueue(t, repo, "ENTRY_APPROVED")
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 0 {
		t.Fatal("publish must not succeed")
	}
	if len(dlq.published) != 1 {
		t.Fatalf("expected DLQ event, got %d", len(dlq.published))
	}
	if dlq.published[0].ID != msg.ID {
		t.Fatalf("DLQ event must reference the original record: %q", dlq.published[0].ID)
	}

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("failed record must leave the backlog, got %d pending", stats.PendingCount)
	}
}

func TestProcessOnceRespectsBatchSize(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubOutboxPublisher{}
	worker := NewWorker(repo, publisher, WithBatchSize(1), WithRetryBaseDelay(0))

	enqueue(t, repo, "ENTRY_APPROVED")
	enqueue(t, repo, "PURCHASE_CONFIRMED")

	worker.ProcessOnce(context.Background())
	if len(publisher.published) != 1 {
		t.Fatalf("expected one event per batch, got %d", len(publisher.published))
	}

	worker.ProcessOnce(context.Background())
	if len(publisher.published) != 2 {
		t.Fatalf("expected the rest on the next pass, got %d", len(publisher.published))
	}
}
