package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	policy := domain.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    350 * time.Millisecond,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 350 * time.Millisecond}, // 400ms capped
		{3, 350 * time.Millisecond},
	}

	for _, tc := range cases {
		if got := Delay(policy, tc.attempt); got != tc.want {
			t.Errorf("Delay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	policy := domain.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := domain.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	wantErr := errors.New("still failing")
	calls := 0
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoShortCircuitsNonRetryable(t *testing.T) {
	policy := domain.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}

	permanent := domain.NewPermanentProviderError("test", errors.New("bad request"))
	calls := 0
	err := Do(context.Background(), policy, domain.IsTransientProviderError, func(ctx context.Context) error {
		calls++
		return permanent
	})

	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	if err == nil {
		t.Error("expected error")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	policy := domain.RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
