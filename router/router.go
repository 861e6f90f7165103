// Package router selects a backend for a request and executes the opaque
// backend runner against it, retrying transient failures without backoff.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/resilience"
)

// Runner is the opaque backend runner the router drives: given a model name
// and a request, it returns a response or an error. Streaming variants are
// the critic package's concern, not the router's.
type Runner func(ctx context.Context, modelName string, request core.Request) (interface{}, error)

// Config is the router's routing table: an ordered list of rules, the
// backend registry they name, and the default model used when no rule
// matches.
type Config struct {
	DefaultModel string
	Backends     map[string]core.BackendConfig
	Rules        []core.RoutingRule
	MaxRetries   int
	Timeout      time.Duration
}

// Router resolves a request to a backend and executes it with retry.
type Router struct {
	config Config
	bus    *events.Bus
	logger core.Logger
}

// New builds a Router. A nil bus disables event emission; a nil logger
// installs a no-op.
func New(config Config, bus *events.Bus, logger core.Logger) *Router {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Router{config: config, bus: bus, logger: logger}
}

// Execute resolves a backend for request and runs it via runner, retrying
// up to MaxRetries+1 attempts without backoff, each bounded by Timeout.
func (r *Router) Execute(ctx context.Context, request core.Request, runner Runner) (interface{}, error) {
	modelName := Resolve(r.config.Rules, request, r.config.DefaultModel)
	backend, ok := r.config.Backends[modelName]
	if !ok || !backend.Enabled {
		r.emit("router.no_model_available", map[string]interface{}{"model": modelName})
		return nil, &core.DeliberationError{
			Op: "Router.Execute", Kind: "router", ID: modelName,
			Message: "no backend available for rule", Err: core.ErrNoBackendAvailable,
		}
	}

	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxRetries := r.config.MaxRetries

	var result interface{}
	attempt := 0
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   maxRetries + 1,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1,
		JitterEnabled: false,
		OnAttempt: func(n, max int, runErr error) {
			attempt = n
			if n < max {
				r.emit("router.backend_retry", map[string]interface{}{
					"model": modelName, "attempt": n, "error": runErr.Error(),
				})
			}
		},
	}

	err := resilience.Retry(ctx, retryCfg, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, runErr := runner(attemptCtx, backend.Model, request)
		if runErr != nil {
			return runErr
		}
		result = res
		return nil
	})

	if err != nil {
		r.emit("router.error", map[string]interface{}{
			"model": modelName, "attempts": attempt, "error": err.Error(),
		})
		return nil, &core.DeliberationError{
			Op: "Router.Execute", Kind: "router", ID: modelName,
			Message: fmt.Sprintf("router-error after %d attempts", attempt), Err: err,
		}
	}

	return result, nil
}

func (r *Router) emit(name string, payload map[string]interface{}) {
	if r.bus != nil {
		r.bus.Emit(name, payload, nil)
	}
}
