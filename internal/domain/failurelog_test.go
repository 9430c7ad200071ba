package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewPaymentFailureLog(t *testing.T) {
	now := time.Now()
	record := NewPaymentFailureLog(42, []byte(`{"activity_id":7}`), errors.New("broker down"), now)

	if record.Status != FailureStatusPending {
		t.Fatalf("expected PENDING, got %s", record.Status)
	}
	if record.RetryCount != 0 {
		t.Fatalf("expected zero retries, got %d", record.RetryCount)
	}
	if record.ErrorMessage != "broker down" {
		t.Fatalf("unexpected message: %q", record.ErrorMessage)
	}
	// Запись доступна для немедленного повтора.
	if record.NextRetryAt.After(now.UTC()) {
		t.Fatalf("next retry must not be in the future: %v", record.NextRetryAt)
	}
}

func TestNewPaymentFailureLogTruncatesMessage(t *testing.T) {
	record := NewPaymentFailureLog(42, nil, errors.New(strings.Repeat("x", 5000)), time.Now())
	if len(record.ErrorMessage) != 1000 {
		t.Fatalf("expected message truncated to 1000, got %d", len(record.ErrorMessage))
	}
}

func TestNewPaymentFailureLogNilCause(t *testing.T) {
	record := NewPaymentFailureLog(42, nil, nil, time.Now())
	if record.ErrorMessage == "" {
		t.Fatal("nil cause must still produce a message")
	}
}

func TestRegisterRetryFailureBackoff(t *testing.T) {
	now := time.Now()
	record := NewPaymentFailureLog(42, nil, errors.New("x"), now)

	// Экспонента 2^retryCount минут, монотонно растущая.
	var prevDelay time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		record.RegisterRetryFailure(now, 10)
		if record.RetryCount != attempt {
			t.Fatalf("expected retry count %d, got %d", attempt, record.RetryCount)
		}
		if record.Status != FailureStatusPending {
			t.Fatalf("attempt %d: expected PENDING, got %s", attempt, record.Status)
		}

		delay := record.NextRetryAt.Sub(now.UTC())
		want := time.Duration(1<<uint(attempt)) * time.Minute
		if delay != want {
			t.Fatalf("attempt %d: expected delay %v, got %v", attempt, want, delay)
		}
		if delay <= prevDelay {
			t.Fatalf("backoff must grow: %v after %v", delay, prevDelay)
		}
		prevDelay = delay
	}
}

func TestRegisterRetryFailureCeiling(t *testing.T) {
	record := NewPaymentFailureLog(42, nil, errors.New("x"), time.Now())

	for i := 0; i < 5; i++ {
		record.RegisterRetryFailure(time.Now(), 5)
	}
	if record.Status != FailureStatusFailed {
		t.Fatalf("expected FAILED at ceiling, got %s", record.Status)
	}
	if record.RetryCount != 5 {
		t.Fatalf("expected retry count 5, got %d", record.RetryCount)
	}
}

func TestResolve(t *testing.T) {
	record := NewPaymentFailureLog(42, nil, errors.New("x"), time.Now())
	record.MarkProcessing(time.Now())
	if record.Status != FailureStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", record.Status)
	}

	record.Resolve(time.Now())
	if record.Status != FailureStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", record.Status)
	}
}
