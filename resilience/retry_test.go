package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/core"
)

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetrySucceedsAfterTransientBackendErrors(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return core.ErrBackendTimeout
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttemptsAndWrapsMaxRetriesExceeded(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return core.ErrBackendTimeout
	})
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

// TestRetryWithoutBackoffMatchesRouterUsage mirrors the RetryConfig
// router.Router.Execute builds: no delay between attempts, since the router
// relies on per-attempt timeouts rather than a cooldown between backends.
func TestRetryWithoutBackoffMatchesRouterUsage(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 4, InitialDelay: 0, MaxDelay: 0, BackoffFactor: 1, JitterEnabled: false}

	attempts := 0
	start := time.Now()
	_ = Retry(context.Background(), config, func() error {
		attempts++
		return core.ErrBackendTimeout
	})
	elapsed := time.Since(start)

	if attempts != 4 {
		t.Errorf("expected all 4 attempts with no backoff between them, got %d", attempts)
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("expected retries without backoff to run back-to-back, took %v", elapsed)
	}
}

// TestRetryOnAttemptHookReportsEachFailure exercises the hook
// router.Router.Execute uses to publish router.backend_retry events instead
// of tracking attempt counts itself.
func TestRetryOnAttemptHookReportsEachFailure(t *testing.T) {
	var reported []int
	var lastErr error
	config := &RetryConfig{
		MaxAttempts: 3, InitialDelay: 0, MaxDelay: 0, BackoffFactor: 1, JitterEnabled: false,
		OnAttempt: func(attempt, max int, err error) {
			reported = append(reported, attempt)
			lastErr = err
		},
	}

	_ = Retry(context.Background(), config, func() error { return core.ErrBackendTimeout })

	if len(reported) != 3 {
		t.Fatalf("expected OnAttempt called once per failed attempt (3), got %d", len(reported))
	}
	for i, n := range reported {
		if n != i+1 {
			t.Errorf("expected attempt numbers in order, got %v", reported)
		}
	}
	if !errors.Is(lastErr, core.ErrBackendTimeout) {
		t.Errorf("expected OnAttempt to receive the backend error, got %v", lastErr)
	}
}

func TestRetryOnAttemptNotCalledAfterSuccess(t *testing.T) {
	var calls int
	config := &RetryConfig{
		MaxAttempts: 3, InitialDelay: 0, MaxDelay: 0, BackoffFactor: 1,
		OnAttempt: func(attempt, max int, err error) { calls++ },
	}

	attempts := 0
	_ = Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 2 {
			return core.ErrBackendTimeout
		}
		return nil
	})

	if calls != 1 {
		t.Errorf("expected OnAttempt called once, for the single failed attempt before success, got %d", calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, func() error {
		attempts++
		return core.ErrBackendTimeout
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts == 0 || attempts >= 5 {
		t.Errorf("expected 1-4 attempts before cancellation, got %d", attempts)
	}
}

func TestRetryRespectsContextDeadline(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return core.ErrBackendTimeout
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if attempts > 3 {
		t.Errorf("expected at most 3 attempts before the deadline, got %d", attempts)
	}
}

func TestRetryZeroMaxAttemptsNeverCallsFn(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 0, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return core.ErrBackendTimeout
	})
	if err == nil {
		t.Error("expected error with zero max attempts")
	}
	if attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", attempts)
	}
}

func TestRetryConcurrentCallersDoNotInterfere(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2.0, JitterEnabled: true}

	const concurrency = 30
	var successCount int32
	done := make(chan struct{}, concurrency)

	for i := 0; i < concurrency; i++ {
		go func(id int) {
			local := 0
			err := Retry(context.Background(), config, func() error {
				local++
				if local >= 2 {
					return nil
				}
				return core.ErrBackendTimeout
			})
			if err == nil {
				atomic.AddInt32(&successCount, 1)
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}

	if int(successCount) != concurrency {
		t.Errorf("expected all %d callers to eventually succeed, got %d", concurrency, successCount)
	}
}

func TestRetryWithCircuitBreakerStopsCallingAfterTrip(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	retryConfig := &RetryConfig{MaxAttempts: 10, InitialDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err = RetryWithCircuitBreaker(context.Background(), retryConfig, cb, func() error {
		attempts++
		return core.ErrBackendTimeout
	})

	if err == nil {
		t.Error("expected an eventual error once the breaker trips")
	}
	// The breaker should trip well before all 10 retries run, since it opens
	// after VolumeThreshold failures rather than waiting for MaxAttempts.
	if attempts >= retryConfig.MaxAttempts {
		t.Errorf("expected the breaker to short-circuit remaining attempts, got %d attempts", attempts)
	}
}

func TestDefaultRetryConfigValues(t *testing.T) {
	config := DefaultRetryConfig()
	if config.MaxAttempts != 3 {
		t.Errorf("expected default MaxAttempts=3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected default InitialDelay=100ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("expected default MaxDelay=5s, got %v", config.MaxDelay)
	}
	if config.BackoffFactor != 2.0 {
		t.Errorf("expected default BackoffFactor=2.0, got %f", config.BackoffFactor)
	}
	if !config.JitterEnabled {
		t.Error("expected default JitterEnabled=true")
	}
}
