package finalizer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type testEnv struct {
	products *memory.ProductRepository
	outbox   *memory.OutboxRepository
	entries  domain.EntryStore
	service  *Service
}

func newTestEnv(t *testing.T, stock int64) *testEnv {
	t.Helper()

	products := memory.NewProductRepository()
	products.Seed(domain.Product{ID: 3, Name: "limited drop", Stock: stock})
	outbox := memory.NewOutboxRepository()
	entries := memory.NewEntryStore(products, outbox)

	strategies := map[domain.CampaignType]Strategy{
		domain.CampaignTypeFirstComeFirstServe: NewFCFSStrategy(entries),
		domain.CampaignTypePurchase:            NewPurchaseStrategy(entries, nil),
	}
	service := NewService(strategies, memory.NewLocker(), nil, nil, Options{})

	return &testEnv{products: products, outbox: outbox, entries: entries, service: service}
}

func purchaseCommand(userID int64) domain.CampaignCommand {
	return domain.CampaignCommand{
		CampaignType: domain.CampaignTypePurchase,
		ActivityID:   7,
		UserID:       userID,
		ProductID:    3,
		Quantity:     1,
		Timestamp:    time.Now().UnixMilli(),
	}
}

func TestFinalizeFCFSCreatesApprovedEntry(t *testing.T) {
	env := newTestEnv(t, 10)
	cmd := purchaseCommand(42)
	cmd.CampaignType = domain.CampaignTypeFirstComeFirstServe

	if err := env.service.Finalize(context.Background(), cmd); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	entry, err := env.entries.FindEntry(context.Background(), 7, 42)
	if err != nil {
		t.Fatalf("entry not found: %v", err)
	}
	if entry.Status != domain.EntryStatusApproved {
		t.Fatalf("expected APPROVED, got %s", entry.Status)
	}
	if entry.ProcessedAt.IsZero() {
		t.Fatal("entry must be marked processed")
	}

	// FCFS не трогает авторитетный сток до пост-кампанной сверки.
	product, err := env.products.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("fcfs must not decrement stock, got %d", product.Stock)
	}
}

func TestFinalizePurchaseDecrementsStock(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.service.Finalize(context.Background(), purchaseCommand(42)); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	product, err := env.products.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 9 {
		t.Fatalf("expected stock 9, got %d", product.Stock)
	}

	stats, err := env.outbox.Stats(context.Background())
	if err != nil {
		t.Fatalf("outbox stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected one outbox event, got %d", stats.PendingCount)
	}
}

func TestFinalizeIsIdempotentOnRedelivery(t *testing.T) {
	env := newTestEnv(t, 10)
	cmd := purchaseCommand(42)

	if err := env.service.Finalize(context.Background(), cmd); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	first, err := env.entries.FindEntry(context.Background(), 7, 42)
	if err != nil {
		t.Fatalf("entry not found: %v", err)
	}

	// Повторная доставка той же команды.
	if err := env.service.Finalize(context.Background(), cmd); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	second, err := env.entries.FindEntry(context.Background(), 7, 42)
	if err != nil {
		t.Fatalf("entry not found after redelivery: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("redelivery must not create a new entry: %q vs %q", first.ID, second.ID)
	}

	product, err := env.products.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 9 {
		t.Fatalf("redelivery must not decrement stock twice, got %d", product.Stock)
	}

	stats, err := env.outbox.Stats(context.Background())
	if err != nil {
		t.Fatalf("outbox stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("redelivery must not duplicate outbox events, got %d", stats.PendingCount)
	}
}

func TestFinalizePurchaseStockExhaustedRejects(t *testing.T) {
	env := newTestEnv(t, 1)

	if err := env.service.Finalize(context.Background(), purchaseCommand(42)); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	if err := env.service.Finalize(context.Background(), purchaseCommand(43)); err != nil {
		t.Fatalf("second purchase must settle as rejection, got %v", err)
	}

	rejected, err := env.entries.FindEntry(context.Background(), 7, 43)
	if err != nil {
		t.Fatalf("rejected entry not found: %v", err)
	}
	if rejected.Status != domain.EntryStatusRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.Status)
	}

	product, err := env.products.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("product read failed: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
}

func TestFinalizeUnsupportedCampaignType(t *testing.T) {
	env := newTestEnv(t, 1)
	cmd := purchaseCommand(42)
	cmd.CampaignType = "LOTTERY"

	if err := env.service.Finalize(context.Background(), cmd); err == nil {
		t.Fatal("expected error for unsupported campaign type")
	}
}

func consumerMessage(t *testing.T, cmd domain.CampaignCommand) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "flashsale.campaign.command", Value: value}
}

func TestHandleMessageFinalizes(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.service.HandleMessage(context.Background(), consumerMessage(t, purchaseCommand(42))); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if _, err := env.entries.FindEntry(context.Background(), 7, 42); err != nil {
		t.Fatalf("entry not created: %v", err)
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	env := newTestEnv(t, 10)

	message := &sarama.ConsumerMessage{Topic: "flashsale.campaign.command", Value: []byte("{broken")}
	if err := env.service.HandleMessage(context.Background(), message); err != nil {
		t.Fatalf("malformed message must be acknowledged, got %v", err)
	}
}

type failingStrategy struct{ err error }

func (s *failingStrategy) Finalize(context.Context, domain.CampaignCommand) (domain.ParticipationEntry, bool, error) {
	return domain.ParticipationEntry{}, false, s.err
}

type recordingCapturer struct {
	captured int
	err      error
}

func (c *recordingCapturer) CaptureFailure(context.Context, int64, domain.CampaignCommand, error) error {
	if c.err != nil {
		return c.err
	}
	c.captured++
	return nil
}

func TestHandleMessageCapturesRetryableFailure(t *testing.T) {
	capturer := &recordingCapturer{}
	strategies := map[domain.CampaignType]Strategy{
		domain.CampaignTypePurchase: &failingStrategy{err: errors.New("storage down")},
	}
	service := NewService(strategies, memory.NewLocker(), capturer, nil, Options{})

	// Захваченный сбой подтверждает сообщение: дальше работает планировщик.
	if err := service.HandleMessage(context.Background(), consumerMessage(t, purchaseCommand(42))); err != nil {
		t.Fatalf("captured failure must ack the message, got %v", err)
	}
	if capturer.captured != 1 {
		t.Fatalf("expected one captured failure, got %d", capturer.captured)
	}
}

func TestHandleMessageReturnsErrorWhenCaptureFails(t *testing.T) {
	capturer := &recordingCapturer{err: errors.New("journal down")}
	strategies := map[domain.CampaignType]Strategy{
		domain.CampaignTypePurchase: &failingStrategy{err: errors.New("storage down")},
	}
	service := NewService(strategies, memory.NewLocker(), capturer, nil, Options{})

	if err := service.HandleMessage(context.Background(), consumerMessage(t, purchaseCommand(42))); err == nil {
		t.Fatal("expected error to trigger broker-level retry")
	}
}
