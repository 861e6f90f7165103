package router

import (
	"context"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
)

// FallbackChain wraps a Router with an ordered list of alternate models,
// tried in turn when the primary model's retries are exhausted. This
// answers spec.md §4.3's open question: the core router does no
// load-balancing or health-based fallback by itself, but a fallback chain
// may be layered on top by wrapping the runner invocation.
type FallbackChain struct {
	router   *Router
	fallback []string
	bus      *events.Bus
}

// NewFallbackChain builds a chain that retries request against each model
// in fallback, in order, after the primary router.Execute call fails.
func NewFallbackChain(r *Router, fallback []string, bus *events.Bus) *FallbackChain {
	return &FallbackChain{router: r, fallback: fallback, bus: bus}
}

// Execute runs the primary route; on failure it substitutes each fallback
// model in turn (by forcing the router's default model selection) until one
// succeeds or the chain is exhausted.
func (c *FallbackChain) Execute(ctx context.Context, request core.Request, runner Runner) (interface{}, error) {
	result, err := c.router.Execute(ctx, request, runner)
	if err == nil {
		return result, nil
	}

	var lastErr = err
	for _, model := range c.fallback {
		backend, ok := c.router.config.Backends[model]
		if !ok || !backend.Enabled {
			continue
		}
		forced := *c.router
		forced.config.DefaultModel = model
		forced.config.Rules = nil

		result, lastErr = forced.Execute(ctx, request, runner)
		if lastErr == nil {
			return result, nil
		}
	}

	if c.bus != nil {
		c.bus.Emit("router.error", map[string]interface{}{
			"reason": "fallback chain exhausted", "error": lastErr.Error(),
		}, nil)
	}
	return nil, &core.DeliberationError{
		Op: "FallbackChain.Execute", Kind: "router",
		Message: "fallback chain exhausted", Err: core.ErrFallbackExhausted,
	}
}
