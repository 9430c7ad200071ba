package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/service/token"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

type stubPublisher struct {
	err      error
	commands []domain.CampaignCommand
	retries  []domain.CampaignCommand
}

func (s *stubPublisher) PublishCommand(cmd domain.CampaignCommand) error {
	if s.err != nil {
		return s.err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *stubPublisher) PublishRetry(cmd domain.CampaignCommand) error {
	if s.err != nil {
		return s.err
	}
	s.retries = append(s.retries, cmd)
	return nil
}

type stubCapturer struct {
	captured []domain.CampaignCommand
	err      error
}

func (s *stubCapturer) CaptureFailure(_ context.Context, _ int64, cmd domain.CampaignCommand, _ error) error {
	if s.err != nil {
		return s.err
	}
	s.captured = append(s.captured, cmd)
	return nil
}

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.NewService(memory.NewKeyValueStore(), token.Config{Secret: []byte("secret")}, nil)
	if err != nil {
		t.Fatalf("create token service: %v", err)
	}
	return svc
}

func issueReservation(t *testing.T, tokens *token.Service) string {
	t.Helper()
	issued, err := tokens.IssueReservation(context.Background(), domain.ReservationTokenPayload{
		UserID:       42,
		ActivityID:   7,
		ProductID:    3,
		Quantity:     2,
		CampaignType: domain.CampaignTypePurchase,
	})
	if err != nil {
		t.Fatalf("issue reservation: %v", err)
	}
	return issued
}

func TestPrepareIssuesApprovalToken(t *testing.T) {
	tokens := newTokenService(t)
	svc := NewService(tokens, &stubPublisher{}, nil)
	ctx := context.Background()

	reservation := issueReservation(t, tokens)
	approval, err := svc.Prepare(ctx, reservation, 42)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if approval != "42:7" {
		t.Fatalf("unexpected approval token: %q", approval)
	}

	// Токен резервации не гасится на prepare: клиент может повторить шаг.
	if _, err := tokens.ValidateReservation(ctx, reservation, 42); err != nil {
		t.Fatalf("reservation must survive prepare: %v", err)
	}
}

func TestPrepareRejectsForeignToken(t *testing.T) {
	tokens := newTokenService(t)
	svc := NewService(tokens, &stubPublisher{}, nil)

	reservation := issueReservation(t, tokens)
	if _, err := svc.Prepare(context.Background(), reservation, 99); !errors.Is(err, domain.ErrTokenOwnership) {
		t.Fatalf("expected ErrTokenOwnership, got %v", err)
	}
}

func TestConfirmPublishesCommand(t *testing.T) {
	tokens := newTokenService(t)
	publisher := &stubPublisher{}
	svc := NewService(tokens, publisher, nil)
	ctx := context.Background()

	reservation := issueReservation(t, tokens)
	approval, err := svc.Prepare(ctx, reservation, 42)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	before := time.Now().UnixMilli()
	if err := svc.Confirm(ctx, approval, 42); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if len(publisher.commands) != 1 {
		t.Fatalf("expected one published command, got %d", len(publisher.commands))
	}
	cmd := publisher.commands[0]
	if cmd.UserID != 42 || cmd.ActivityID != 7 || cmd.ProductID != 3 || cmd.Quantity != 2 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.CampaignType != domain.CampaignTypePurchase {
		t.Fatalf("unexpected campaign type: %s", cmd.CampaignType)
	}
	if cmd.Timestamp < before {
		t.Fatalf("timestamp not set: %d", cmd.Timestamp)
	}

	// Оба токена зачищены после успешной публикации.
	if _, err := tokens.ValidateReservation(ctx, reservation, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("reservation must be cleaned up, got %v", err)
	}
	if err := svc.Confirm(ctx, approval, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("approval must be consumed exactly once, got %v", err)
	}
}

func TestConfirmCapturesPublishFailure(t *testing.T) {
	tokens := newTokenService(t)
	publisher := &stubPublisher{err: errors.New("broker down")}
	capturer := &stubCapturer{}
	svc := NewService(tokens, publisher, capturer)

	reservation := issueReservation(t, tokens)
	approval, err := svc.Prepare(context.Background(), reservation, 42)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	// Короткий дедлайн обрывает backoff между попытками публикации.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := svc.Confirm(ctx, approval, 42); !errors.Is(err, domain.ErrPublishUnavailable) {
		t.Fatalf("expected ErrPublishUnavailable, got %v", err)
	}
	if len(capturer.captured) != 1 {
		t.Fatalf("expected one captured command, got %d", len(capturer.captured))
	}
	if capturer.captured[0].ActivityID != 7 || capturer.captured[0].UserID != 42 {
		t.Fatalf("unexpected captured command: %+v", capturer.captured[0])
	}
}

func TestConfirmReturnsCaptureError(t *testing.T) {
	tokens := newTokenService(t)
	publisher := &stubPublisher{err: errors.New("broker down")}
	captureErr := errors.New("journal unavailable")
	svc := NewService(tokens, publisher, &stubCapturer{err: captureErr})

	reservation := issueReservation(t, tokens)
	approval, err := svc.Prepare(context.Background(), reservation, 42)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Если и журнал недоступен, ошибку journaling нельзя маскировать.
	if err := svc.Confirm(ctx, approval, 42); !errors.Is(err, captureErr) {
		t.Fatalf("expected capture error, got %v", err)
	}
}

func TestConfirmRejectsForeignApproval(t *testing.T) {
	tokens := newTokenService(t)
	svc := NewService(tokens, &stubPublisher{}, nil)
	ctx := context.Background()

	reservation := issueReservation(t, tokens)
	approval, err := svc.Prepare(ctx, reservation, 42)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	if err := svc.Confirm(ctx, approval, 99); !errors.Is(err, domain.ErrTokenOwnership) {
		t.Fatalf("expected ErrTokenOwnership, got %v", err)
	}
}
