package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
)

// backendConfig returns a breaker configuration shaped like the one
// cmd/conclaved wires around an HTTPRunner: a handful of requests before the
// breaker is willing to judge error rate, a short sleep window so tests don't
// spend real wall-clock time waiting out a production-sized cooldown.
func backendConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  2,
		SleepWindow:      50 * time.Millisecond,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       time.Minute,
		BucketCount:      10,
	}
}

func TestCircuitBreakerTripsOpenAfterBackendFailures(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return core.ErrBackendTimeout
		})
	}

	if cb.GetState() != "open" {
		t.Fatalf("expected breaker to trip open after repeated backend timeouts, got %s", cb.GetState())
	}

	err = cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen while tripped, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecoversToClosed(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
	if cb.GetState() != "open" {
		t.Fatal("breaker should be open before sleep window elapses")
	}

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("half-open probe %d should be allowed through, got %v", i, err)
		}
	}

	if cb.GetState() != "closed" {
		t.Errorf("expected backend recovery to close the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerErrorClassificationIgnoresUserErrors(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("critic-dispatch"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	// A request for a critic the caller never registered is a caller mistake,
	// not a sign the backend is unhealthy - it must not count toward the
	// error budget the way a backend timeout does.
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrCriticNotFound })
	}
	if cb.GetState() != "closed" {
		t.Errorf("critic-not-found errors should not trip the breaker, got %s", cb.GetState())
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
	if cb.GetState() != "open" {
		t.Errorf("backend timeouts should still trip the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerEmitStateChangesToPublishesEvent(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	bus := events.New(nil)
	var received []core.Event
	var mu sync.Mutex
	bus.Subscribe("resilience.circuit_breaker.state_change", func(e core.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	cb.EmitStateChangesTo(bus)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("expected at least one state-change event on the bus")
	}
	last := received[len(received)-1]
	if last.Payload["name"] != "gpt-backend" || last.Payload["from"] != "closed" || last.Payload["to"] != "open" {
		t.Errorf("unexpected event payload: %+v", last.Payload)
	}
}

func TestCircuitBreakerEmitStateChangesToNilBusIsNoop(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	cb.EmitStateChangesTo(nil)
	// Must not panic when the breaker later transitions.
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
}

func TestCircuitBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	config := backendConfig("gpt-backend")
	config.HalfOpenRequests = 2
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
	time.Sleep(config.SleepWindow + 20*time.Millisecond)

	var allowed, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(context.Background(), func() error {
				atomic.AddInt32(&allowed, 1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if errors.Is(err, core.ErrCircuitBreakerOpen) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	if allowed > int32(config.HalfOpenRequests) {
		t.Errorf("allowed %d concurrent half-open probes, want at most %d", allowed, config.HalfOpenRequests)
	}
	if rejected == 0 {
		t.Error("expected some probes to be rejected while others are in flight")
	}
}

func TestCircuitBreakerManualOverrideForMaintenance(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	// An operator taking a backend out of rotation for maintenance.
	cb.ForceOpen()
	if err := cb.Execute(context.Background(), func() error { return nil }); !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("forced-open breaker should reject, got %v", err)
	}

	cb.ForceClosed()
	for i := 0; i < 20; i++ {
		if err := cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout }); errors.Is(err, core.ErrCircuitBreakerOpen) {
			t.Error("forced-closed breaker should never reject")
		}
	}

	cb.ClearForce()
	metrics := cb.GetMetrics()
	if metrics["force_open"].(bool) || metrics["force_closed"].(bool) {
		t.Error("ClearForce should reset both override flags")
	}
}

func TestCircuitBreakerMetricsTrackBackendHealth(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 6; i++ {
		_ = cb.Execute(context.Background(), func() error { return nil })
	}
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}

	metrics := cb.GetMetrics()
	if metrics["name"] != "gpt-backend" {
		t.Errorf("expected name gpt-backend, got %v", metrics["name"])
	}
	if success, _ := metrics["success"].(uint64); success != 6 {
		t.Errorf("expected 6 successes, got %v", metrics["success"])
	}
	if failure, _ := metrics["failure"].(uint64); failure != 2 {
		t.Errorf("expected 2 failures, got %v", metrics["failure"])
	}
	wantRate := 2.0 / 8.0
	if rate, _ := metrics["error_rate"].(float64); rate != wantRate {
		t.Errorf("expected error rate %.3f, got %v", wantRate, metrics["error_rate"])
	}
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      *CircuitBreakerConfig
		expectError bool
	}{
		{name: "nil config uses defaults", config: nil, expectError: false},
		{name: "empty name rejected", config: &CircuitBreakerConfig{Name: "", ErrorThreshold: 0.5, VolumeThreshold: 10}, expectError: true},
		{name: "error threshold below zero", config: &CircuitBreakerConfig{Name: "x", ErrorThreshold: -0.1, VolumeThreshold: 10}, expectError: true},
		{name: "error threshold above one", config: &CircuitBreakerConfig{Name: "x", ErrorThreshold: 1.5, VolumeThreshold: 10}, expectError: true},
		{name: "negative volume threshold", config: &CircuitBreakerConfig{Name: "x", ErrorThreshold: 0.5, VolumeThreshold: -1}, expectError: true},
		{name: "half-open requests must be positive", config: &CircuitBreakerConfig{Name: "x", ErrorThreshold: 0.5, VolumeThreshold: 10, HalfOpenRequests: 0}, expectError: true},
		{
			name: "valid config",
			config: &CircuitBreakerConfig{
				Name: "x", ErrorThreshold: 0.5, VolumeThreshold: 10, HalfOpenRequests: 3,
				SuccessThreshold: 0.6, SleepWindow: 30 * time.Second, WindowSize: 60 * time.Second, BucketCount: 10,
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCircuitBreaker(tt.config)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestCircuitBreakerExecuteWithTimeoutBoundsSlowBackends(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	err = cb.ExecuteWithTimeout(context.Background(), 20*time.Millisecond, func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded for a hung backend call, got %v", err)
	}

	err = cb.ExecuteWithTimeout(context.Background(), 100*time.Millisecond, func() error {
		return nil
	})
	if err != nil {
		t.Errorf("fast call within the timeout should succeed, got %v", err)
	}
}

func TestCircuitBreakerLegacyFailureThresholdCompatibility(t *testing.T) {
	cb := NewCircuitBreakerLegacy(3, 100*time.Millisecond)
	if cb == nil {
		t.Fatal("NewCircuitBreakerLegacy returned nil")
	}

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != "open" {
		t.Error("legacy breaker should open once the failure threshold is hit")
	}
}

func TestSlidingWindowCountsSuccessAndFailure(t *testing.T) {
	window := NewSlidingWindow(time.Minute, 10, false)
	window.RecordSuccess()
	window.RecordSuccess()
	window.RecordFailure()

	success, failure := window.GetCounts()
	if success != 2 || failure != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %d/%d", success, failure)
	}
	if rate := window.GetErrorRate(); rate != 1.0/3.0 {
		t.Errorf("expected error rate 0.333, got %v", rate)
	}
}

func TestErrorClassifierCustom(t *testing.T) {
	config := backendConfig("gpt-backend")
	config.ErrorClassifier = func(err error) bool {
		return errors.Is(err, core.ErrBackendTimeout)
	}
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("some other failure") })
	}
	if cb.GetState() != "closed" {
		t.Error("custom classifier should have ignored the non-timeout errors")
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
	if cb.GetState() != "open" {
		t.Error("custom classifier should still count backend timeouts")
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = cb.Execute(context.Background(), func() error {
					if (n+j)%3 == 0 {
						return core.ErrBackendTimeout
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	// No assertion beyond "didn't race or deadlock" - the race detector and
	// a clean exit are the point of this test.
	_ = cb.GetMetrics()
}

func TestCircuitBreakerStateChangeListenerNaming(t *testing.T) {
	cb, err := NewCircuitBreaker(backendConfig("gpt-backend"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	var transitions []string
	var mu sync.Mutex
	cb.AddStateChangeListener(func(name string, from, to CircuitState) {
		mu.Lock()
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return core.ErrBackendTimeout })
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, tr := range transitions {
		if tr == "gpt-backend:closed->open" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a gpt-backend:closed->open transition, got %v", transitions)
	}
}
