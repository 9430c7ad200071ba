package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	svc, err := NewService(memory.NewKeyValueStore(), Config{Secret: []byte(secret)}, nil)
	if err != nil {
		t.Fatalf("create token service: %v", err)
	}
	return svc
}

func reservationPayload() domain.ReservationTokenPayload {
	return domain.ReservationTokenPayload{
		UserID:       42,
		ActivityID:   7,
		ProductID:    3,
		Quantity:     1,
		CampaignType: domain.CampaignTypePurchase,
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(memory.NewKeyValueStore(), Config{}, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestReservationRoundTrip(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	issued, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	payload, err := svc.ValidateReservation(ctx, issued, 42)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if payload != reservationPayload() {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// Валидация не гасит токен.
	if _, err := svc.ValidateReservation(ctx, issued, 42); err != nil {
		t.Fatalf("second validate failed: %v", err)
	}
}

func TestReservationTokenIsDeterministic(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	first, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	second, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("second issue failed: %v", err)
	}
	if first != second {
		t.Fatalf("reissue must produce the same token: %q vs %q", first, second)
	}
}

func TestConsumeReservationExactlyOnce(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	issued, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := svc.ConsumeReservation(ctx, issued, 42); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if _, err := svc.ConsumeReservation(ctx, issued, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on second consume, got %v", err)
	}
}

func TestReservationOwnership(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	issued, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := svc.ValidateReservation(ctx, issued, 43); !errors.Is(err, domain.ErrTokenOwnership) {
		t.Fatalf("expected ErrTokenOwnership, got %v", err)
	}
	// Чужая попытка не гасит токен владельца.
	if _, err := svc.ConsumeReservation(ctx, issued, 42); err != nil {
		t.Fatalf("owner consume failed: %v", err)
	}
}

func TestReservationSignatureMismatch(t *testing.T) {
	issuer := newTestService(t, "secret-a")
	verifier := newTestService(t, "secret-b")
	ctx := context.Background()

	issued, err := issuer.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := verifier.ValidateReservation(ctx, issued, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestReservationGarbageToken(t *testing.T) {
	svc := newTestService(t, "secret")

	for _, garbage := range []string{"", "not-base64!!!", "bm90LWEtdG9rZW4"} {
		if _, err := svc.ValidateReservation(context.Background(), garbage, 42); !errors.Is(err, domain.ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", garbage, err)
		}
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	payload := domain.PaymentApprovalPayload{
		UserID:           42,
		ActivityID:       7,
		ProductID:        3,
		Quantity:         2,
		CampaignType:     domain.CampaignTypePurchase,
		ReservationToken: "rt",
	}
	issued, err := svc.IssueApproval(ctx, payload)
	if err != nil {
		t.Fatalf("issue approval failed: %v", err)
	}
	if issued != "42:7" {
		t.Fatalf("unexpected approval token format: %q", issued)
	}

	if err := svc.RefreshApproval(ctx, issued); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	got, err := svc.ConsumeApproval(ctx, issued, 42)
	if err != nil {
		t.Fatalf("consume approval failed: %v", err)
	}
	if got != payload {
		t.Fatalf("unexpected approval payload: %+v", got)
	}

	if _, err := svc.ConsumeApproval(ctx, issued, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on second consume, got %v", err)
	}
}

func TestConsumeApprovalOwnership(t *testing.T) {
	svc := newTestService(t, "secret")
	ctx := context.Background()

	issued, err := svc.IssueApproval(ctx, domain.PaymentApprovalPayload{UserID: 42, ActivityID: 7})
	if err != nil {
		t.Fatalf("issue approval failed: %v", err)
	}

	if _, err := svc.ConsumeApproval(ctx, issued, 99); !errors.Is(err, domain.ErrTokenOwnership) {
		t.Fatalf("expected ErrTokenOwnership, got %v", err)
	}
	if _, err := svc.ConsumeApproval(ctx, "garbage", 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for malformed token, got %v", err)
	}
}

func TestReservationTTLExpiry(t *testing.T) {
	store := memory.NewKeyValueStore()
	svc, err := NewService(store, Config{Secret: []byte("secret"), ReservationTTL: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	ctx := context.Background()

	issued, err := svc.IssueReservation(ctx, reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := svc.ValidateReservation(ctx, issued, 42); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after ttl, got %v", err)
	}
}

func TestParseToken(t *testing.T) {
	svc := newTestService(t, "secret")

	issued, err := svc.IssueReservation(context.Background(), reservationPayload())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	identity, err := ParseToken(issued)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if identity.UserID != 42 || identity.ActivityID != 7 {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !strings.ContainsAny(identity.Signature, "0123456789abcdef") {
		t.Fatalf("signature does not look like hex: %q", identity.Signature)
	}
}
