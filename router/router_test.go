package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DefaultModel: "fast",
		Backends: map[string]core.BackendConfig{
			"fast": {Name: "fast", Model: "fast-model", Enabled: true},
			"slow": {Name: "slow", Model: "slow-model", Enabled: true},
			"off":  {Name: "off", Model: "off-model", Enabled: false},
		},
		Rules: []core.RoutingRule{
			{Match: map[string]string{"tier": "premium"}, UseModel: "slow"},
		},
		MaxRetries: 2,
		Timeout:    time.Second,
	}
}

func TestRouterResolvesRuleOverDefault(t *testing.T) {
	r := New(testConfig(), nil, nil)
	var seenModel string
	_, err := r.Execute(context.Background(), core.Request{"tier": "premium"}, func(_ context.Context, model string, _ core.Request) (interface{}, error) {
		seenModel = model
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "slow-model", seenModel)
}

func TestRouterFallsBackToDefault(t *testing.T) {
	r := New(testConfig(), nil, nil)
	var seenModel string
	_, err := r.Execute(context.Background(), core.Request{"tier": "free"}, func(_ context.Context, model string, _ core.Request) (interface{}, error) {
		seenModel = model
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast-model", seenModel)
}

func TestRouterNoModelAvailable(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultModel = "off"
	bus := events.New(nil)
	var gotEvent bool
	bus.Subscribe("router.no_model_available", func(core.Event) { gotEvent = true })

	r := New(cfg, bus, nil)
	_, err := r.Execute(context.Background(), core.Request{}, func(_ context.Context, _ string, _ core.Request) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoBackendAvailable)
	assert.True(t, gotEvent)
}

// S5: a runner that fails K < max_retries+1 times then succeeds yields the
// successful response, emitting one router.backend_retry per failure.
func TestRouterRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	bus := events.New(nil)
	retryEvents := 0
	bus.Subscribe("router.backend_retry", func(core.Event) { retryEvents++ })

	r := New(cfg, bus, nil)
	attempts := 0
	result, err := r.Execute(context.Background(), core.Request{}, func(_ context.Context, _ string, _ core.Request) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "third response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "third response", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retryEvents)
}

func TestRouterExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	r := New(cfg, nil, nil)
	attempts := 0
	_, err := r.Execute(context.Background(), core.Request{}, func(_ context.Context, _ string, _ core.Request) (interface{}, error) {
		attempts++
		return nil, errors.New("permanent failure")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRouterPerAttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	r := New(cfg, nil, nil)
	_, err := r.Execute(context.Background(), core.Request{}, func(ctx context.Context, _ string, _ core.Request) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too slow", nil
		}
	})
	require.Error(t, err)
}

func TestFallbackChainTriesAlternates(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultModel = "fast"
	cfg.MaxRetries = 0
	r := New(cfg, nil, nil)
	chain := NewFallbackChain(r, []string{"slow"}, nil)

	_, err := chain.Execute(context.Background(), core.Request{}, func(_ context.Context, model string, _ core.Request) (interface{}, error) {
		if model == "fast-model" {
			return nil, errors.New("primary down")
		}
		return "fallback response", nil
	})
	require.NoError(t, err)
}

func TestFallbackChainExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	r := New(cfg, nil, nil)
	chain := NewFallbackChain(r, []string{"slow"}, nil)

	_, err := chain.Execute(context.Background(), core.Request{}, func(_ context.Context, _ string, _ core.Request) (interface{}, error) {
		return nil, errors.New("always down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFallbackExhausted)
}
