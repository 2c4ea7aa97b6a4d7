package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "xhsresearch/pkg/errors"
	"xhsresearch/pkg/logger"
)

func testConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     NewConstantBackoff(time.Millisecond),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, testConfig(3))

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeNetwork, "temporary failure")
		}
		return nil
	}, testConfig(5))

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, "always failing")
	}, testConfig(3))

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeConfiguration, "missing credential")
	}, testConfig(5))

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := testConfig(0)
	cfg.Context = ctx
	cfg.Backoff = NewConstantBackoff(50 * time.Millisecond)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(func() error {
			calls++
			return errs.New(errs.ErrorTypeNetwork, "failing")
		}, cfg)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(func() (string, error) {
		calls++
		if calls < 2 {
			return "", errs.New(errs.ErrorTypeRateLimit, "slow down")
		}
		return "hello", nil
	}, testConfig(3))

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "hello" {
		t.Errorf("expected result %q, got %q", "hello", result)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, "timeout"), true},
		{"rate limit error", errs.New(errs.ErrorTypeRateLimit, "too fast"), true},
		{"configuration error", errs.New(errs.ErrorTypeConfiguration, "no key"), false},
		{"capability error", errs.New(errs.ErrorTypeCapability, "no vision"), false},
		{"context cancelled", context.Canceled, false},
		{"plain error", errors.New("something"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExponentialBackoffGrows(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := eb.NextDelay(attempt)
		if d <= prev {
			t.Errorf("delay for attempt %d (%v) did not grow past %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestExponentialBackoffCapped(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   2 * time.Second,
		Multiplier: 10.0,
	}

	if d := eb.NextDelay(5); d > 2*time.Second {
		t.Errorf("delay %v exceeds max %v", d, 2*time.Second)
	}
}

func TestLinearBackoff(t *testing.T) {
	lb := &LinearBackoff{
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  35 * time.Millisecond,
		Increment: 10 * time.Millisecond,
	}

	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		35 * time.Millisecond,
		35 * time.Millisecond,
	}
	for i, want := range expected {
		if got := lb.NextDelay(i + 1); got != want {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, want)
		}
	}
}
