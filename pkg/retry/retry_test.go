package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/tunecache/tunecache/pkg/errors"
)

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(quickConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(quickConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeConnectionFailed, "connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(quickConfig())

	attempts := 0
	badURL := errors.NewError(errors.ErrCodeInvalidURL, "not a URL")

	err := retryer.Do(func() error {
		attempts++
		return badURL
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_RetryableFlagOverridesCode(t *testing.T) {
	retryer := New(quickConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		// InvalidURL is non-retryable by default, but the flag wins.
		return errors.NewError(errors.ErrCodeInvalidURL, "flaky resolver").WithRetryable(true)
	})

	if err == nil {
		t.Error("Expected error after exhaustion, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_ExhaustionWrapsLastError(t *testing.T) {
	retryer := New(quickConfig())

	lastErr := errors.NewError(errors.ErrCodeFetchFailed, "origin down")
	err := retryer.Do(func() error {
		return lastErr
	})

	var perr *errors.PreloadError
	if !stderr.As(err, &perr) || perr.Code != errors.ErrCodeRetryExhausted {
		t.Fatalf("Expected ErrCodeRetryExhausted, got %v", err)
	}
	if !stderr.Is(err, lastErr) {
		t.Error("Exhaustion error must wrap the last attempt's error")
	}
}

func TestRetryer_ContextCancellationStopsRetries(t *testing.T) {
	retryer := New(quickConfig())

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := retryer.DoWithContext(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.NewError(errors.ErrCodeConnectionFailed, "connection refused")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation stopped retries, got %d", attempts)
	}
}

func TestRetryer_ContextErrorsNeverRetried(t *testing.T) {
	retryer := New(quickConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return context.DeadlineExceeded
	})

	if !stderr.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded passthrough, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_AttemptDeadlineIsRetried(t *testing.T) {
	// A timeout error carrying a per-attempt deadline cause keeps its
	// retryable code; only the bare context error is terminal.
	retryer := New(quickConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeFetchTimeout, "fetch timed out").
				WithCause(context.DeadlineExceeded)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success after slow attempts, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	cfg := quickConfig()

	var callbackAttempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackAttempts = append(callbackAttempts, attempt)
	}
	retryer := New(cfg)

	retryer.Do(func() error {
		return errors.NewError(errors.ErrCodeFetchFailed, "origin down")
	})

	if len(callbackAttempts) != 2 {
		t.Fatalf("Expected 2 retry callbacks for 3 attempts, got %d", len(callbackAttempts))
	}
	if callbackAttempts[0] != 1 || callbackAttempts[1] != 2 {
		t.Errorf("Expected callbacks for attempts [1 2], got %v", callbackAttempts)
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	retryer := New(Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped at MaxDelay
	}

	for _, tt := range tests {
		if got := retryer.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateDelay_JitterStaysInBounds(t *testing.T) {
	retryer := New(Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		got := retryer.calculateDelay(1)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 100ms", got)
		}
	}
}

func TestNew_AppliesDefaultsForZeroValues(t *testing.T) {
	retryer := New(Config{})

	if retryer.config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", retryer.config.MaxAttempts)
	}
	if retryer.config.InitialDelay != 200*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 200ms", retryer.config.InitialDelay)
	}
	if retryer.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", retryer.config.Multiplier)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	base := New(quickConfig())
	modified := base.WithMaxAttempts(1)

	attempts := 0
	modified.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeFetchFailed, "origin down")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if base.config.MaxAttempts != 3 {
		t.Error("WithMaxAttempts must not mutate the original retryer")
	}
}
