package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/fusion"
	"github.com/stretchr/testify/assert"
)

type fakeCore struct {
	outcome fusion.Outcome
	delay   time.Duration
	panics  bool
	calls   int
	mu      sync.Mutex
}

func (f *fakeCore) Deliberate(ctx context.Context, request core.Request) fusion.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return fusion.Outcome{Kind: fusion.OutcomeError, Err: ctx.Err()}
		}
	}
	return f.outcome
}

func TestRuntimeDecideReturnsDecisionOnSuccess(t *testing.T) {
	fc := &fakeCore{outcome: fusion.Outcome{Kind: fusion.OutcomeDecision, Decision: core.Decision{Action: core.ActionProceed}}}
	rt := New(fc, DefaultConfig(), nil, nil, nil)

	decision := rt.Decide(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, core.ActionProceed, decision.Action)
	assert.NotEmpty(t, decision.RequestID)
	assert.Equal(t, int64(1), rt.State().Snapshot().CompletedTasks)
	assert.Equal(t, int64(0), rt.State().Snapshot().ActiveTasks)
}

func TestRuntimeDecideSurfacesEscalate(t *testing.T) {
	fc := &fakeCore{outcome: fusion.Outcome{Kind: fusion.OutcomeEscalate, Reason: "uncertainty_exceeded"}}
	rt := New(fc, DefaultConfig(), nil, nil, nil)

	decision := rt.Decide(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, core.ActionEscalate, decision.Action)
	assert.Equal(t, "uncertainty_exceeded", decision.Reason)
	assert.Equal(t, int64(1), rt.State().Snapshot().FailedTasks)
}

func TestRuntimeDecideSurfacesErrorWithoutRaising(t *testing.T) {
	fc := &fakeCore{outcome: fusion.Outcome{Kind: fusion.OutcomeError, Err: errors.New("backend unavailable")}}
	rt := New(fc, DefaultConfig(), nil, nil, nil)

	decision := rt.Decide(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, core.ActionError, decision.Action)
	assert.Contains(t, decision.Error, "backend unavailable")
}

func TestRuntimeDecideNeverPanicsWhenCorePanics(t *testing.T) {
	fc := &fakeCore{panics: true}
	rt := New(fc, DefaultConfig(), nil, nil, nil)

	assert.NotPanics(t, func() {
		decision := rt.Decide(context.Background(), core.Request{"prompt": "hi"})
		assert.Equal(t, core.ActionError, decision.Action)
	})
}

func TestRuntimeDecideTimesOutWithinConfiguredBudget(t *testing.T) {
	fc := &fakeCore{delay: 200 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.DecisionTimeout = 20 * time.Millisecond
	rt := New(fc, cfg, nil, nil, nil)

	start := time.Now()
	decision := rt.Decide(context.Background(), core.Request{"prompt": "hi"})
	elapsed := time.Since(start)

	assert.Equal(t, core.ActionError, decision.Action)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestRuntimeNeverExceedsMaxConcurrentTasks(t *testing.T) {
	const maxConcurrent = 2
	var peak int64
	var mu sync.Mutex

	fc := &blockingCore{release: make(chan struct{}), onEnter: func(active int64) {
		mu.Lock()
		if active > peak {
			peak = active
		}
		mu.Unlock()
	}}
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = maxConcurrent
	rt := New(fc, cfg, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Decide(context.Background(), core.Request{"prompt": "hi"})
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(fc.release)
	wg.Wait()

	assert.LessOrEqual(t, peak, int64(maxConcurrent))
}

// blockingCore blocks every Deliberate call until release is closed, letting
// the test observe how many requests are admitted concurrently.
type blockingCore struct {
	release chan struct{}
	onEnter func(active int64)
	active  int64
	mu      sync.Mutex
}

func (b *blockingCore) Deliberate(ctx context.Context, request core.Request) fusion.Outcome {
	b.mu.Lock()
	b.active++
	cur := b.active
	b.mu.Unlock()
	if b.onEnter != nil {
		b.onEnter(cur)
	}
	<-b.release
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return fusion.Outcome{Kind: fusion.OutcomeDecision, Decision: core.Decision{Action: core.ActionProceed}}
}

func TestRuntimeEmitsLifecycleEvents(t *testing.T) {
	fc := &fakeCore{outcome: fusion.Outcome{Kind: fusion.OutcomeDecision, Decision: core.Decision{Action: core.ActionProceed}}}
	bus := events.New(nil)

	var received, completed []string
	bus.Subscribe("runtime.request.received", func(e core.Event) { received = append(received, e.Name) })
	bus.Subscribe("runtime.request.completed", func(e core.Event) { completed = append(completed, e.Name) })

	rt := New(fc, DefaultConfig(), bus, nil, nil)
	rt.Decide(context.Background(), core.Request{"prompt": "hi"})

	assert.Len(t, received, 1)
	assert.Len(t, completed, 1)
}
