package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestRetryWithPolicy_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var delays []time.Duration

	got, err := RetryWithPolicy(context.Background(), fastPolicy(3),
		func(ctx context.Context) (string, error) {
			calls++
			if calls <= 3 {
				return "", WrapLLMError(errors.New("too many requests"), http.StatusTooManyRequests, "", "")
			}
			return "ok", nil
		},
		ClassifyLLMError,
		func(attempt int, delay time.Duration, err error) {
			delays = append(delays, delay)
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if len(delays) != 3 {
		t.Fatalf("expected 3 retry delays, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delay %d (%v) not greater than delay %d (%v)", i, delays[i], i-1, delays[i-1])
		}
	}
}

func TestRetryWithPolicy_Exhausted(t *testing.T) {
	calls := 0
	_, err := RetryWithPolicy(context.Background(), fastPolicy(2),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, WrapLLMError(errors.New("rate limited"), http.StatusTooManyRequests, "", "")
		},
		ClassifyLLMError,
		nil,
	)
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestRetryWithPolicy_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryWithPolicy(context.Background(), fastPolicy(5),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, WrapLLMError(errors.New("internal error"), http.StatusInternalServerError, "internal error", "")
		},
		ClassifyLLMError,
		nil,
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryExhausted(err) {
		t.Errorf("non-retryable error should not report exhaustion: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryWithPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy(3)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second

	_, err := RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (int, error) {
			cancel()
			return 0, WrapLLMError(errors.New("slow down"), http.StatusTooManyRequests, "", "")
		},
		ClassifyLLMError,
		nil,
	)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	plain := errors.New("boom")

	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"first attempt", 0, plain, 100 * time.Millisecond},
		{"third attempt", 2, plain, 400 * time.Millisecond},
		{"capped", 10, plain, time.Second},
		{"retry-after wins", 0, WrapLLMError(plain, http.StatusTooManyRequests, "", "1"), time.Second},
		{"retry-after capped", 0, WrapLLMError(plain, http.StatusTooManyRequests, "", "120"), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateDelay(policy, tt.attempt, tt.err); got != tt.want {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}
