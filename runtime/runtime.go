package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/fusion"
	"github.com/conclave-ai/conclave/hooks"
)

// Config mirrors runtime_config.py's RuntimeConfig: the operational knobs
// for the runtime shell, independent of the deliberation policy itself
// (that lives in core.ModeConfig).
type Config struct {
	MaxConcurrentTasks   int
	DecisionTimeout      time.Duration
	HealthcheckInterval  time.Duration
}

// DefaultConfig matches the Python defaults (10 concurrent tasks, 20s
// decision timeout).
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:  10,
		DecisionTimeout:     20 * time.Second,
		HealthcheckInterval: 30 * time.Second,
	}
}

// Core is the subset of HybridCore the runtime shell depends on.
type Core interface {
	Deliberate(ctx context.Context, request core.Request) fusion.Outcome
}

// Runtime is the admission-controlled operational shell around a Core,
// porting runtime.py's EleanorRuntime. It never panics or returns a Go
// error from Decide: every failure mode, including a context deadline,
// is surfaced as a core.Decision with Action == core.ActionError, per
// spec.md §9's "runtime never raises" invariant.
type Runtime struct {
	hybrid Core
	config Config
	state  *State
	sem    chan struct{}
	bus    *events.Bus
	hooks  *hooks.Manager
	logger core.Logger
}

// New builds a Runtime. bus, hookMgr, and logger may be nil.
func New(hybrid Core, config Config, bus *events.Bus, hookMgr *hooks.Manager, logger core.Logger) *Runtime {
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	if config.DecisionTimeout <= 0 {
		config.DecisionTimeout = DefaultConfig().DecisionTimeout
	}
	return &Runtime{
		hybrid: hybrid,
		config: config,
		state:  NewState(),
		sem:    make(chan struct{}, config.MaxConcurrentTasks),
		bus:    bus,
		hooks:  hookMgr,
		logger: logger,
	}
}

// State exposes the runtime's counters for status/health endpoints.
func (r *Runtime) State() *State { return r.state }

// Decide is the top-level public API: result := runtime.Decide(ctx, request).
func (r *Runtime) Decide(ctx context.Context, request core.Request) core.Decision {
	reqID := r.state.NewRequestID()
	r.state.LogRequest(reqID, request)

	r.emit("runtime.request.received", map[string]interface{}{"id": reqID, "request": map[string]interface{}(request)})
	r.fireHook("before_runtime_step", map[string]interface{}{"id": reqID, "request": map[string]interface{}(request)})

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return core.Decision{Action: core.ActionError, Error: ctx.Err().Error(), RequestID: reqID}
	}
	defer func() { <-r.sem }()

	r.state.IncrementActive()
	defer r.state.DecrementActive()

	deliberateCtx, cancel := context.WithTimeout(ctx, r.config.DecisionTimeout)
	defer cancel()

	outcome := r.runWithRecover(deliberateCtx, request)

	switch outcome.Kind {
	case fusion.OutcomeDecision:
		decision := outcome.Decision
		decision.RequestID = reqID
		r.state.Complete()
		r.fireHook("after_runtime_step", map[string]interface{}{"id": reqID, "result": decision})
		r.emit("runtime.request.completed", map[string]interface{}{"id": reqID, "result": decision})
		return decision

	case fusion.OutcomeEscalate:
		r.state.Fail()
		r.emitTrace("runtime.escalation", map[string]interface{}{"id": reqID})
		r.emit("runtime.request.escalation", map[string]interface{}{"id": reqID})
		return core.Decision{Action: core.ActionEscalate, Reason: outcome.Reason, RequestID: reqID}

	default: // fusion.OutcomeError, or context deadline
		r.state.Fail()
		errMsg := deliberateErrorMessage(deliberateCtx, outcome)
		if r.logger != nil {
			r.logger.Error("runtime: execution failed", map[string]interface{}{"error": errMsg, "request_id": reqID})
		}
		r.emitTrace("runtime.error", map[string]interface{}{"id": reqID, "error": errMsg})
		r.emit("runtime.request.error", map[string]interface{}{"id": reqID, "error": errMsg})
		return core.Decision{Action: core.ActionError, Error: errMsg, RequestID: reqID}
	}
}

// runWithRecover isolates the runtime from a panicking hybrid core, the
// Go analogue of the Python try/except Exception catch-all in decide().
func (r *Runtime) runWithRecover(ctx context.Context, request core.Request) (outcome fusion.Outcome) {
	done := make(chan fusion.Outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fusion.Outcome{Kind: fusion.OutcomeError, Err: panicAsError(rec)}
			}
		}()
		done <- r.hybrid.Deliberate(ctx, request)
	}()

	select {
	case outcome = <-done:
		return outcome
	case <-ctx.Done():
		return fusion.Outcome{Kind: fusion.OutcomeError, Err: ctx.Err()}
	}
}

func deliberateErrorMessage(ctx context.Context, outcome fusion.Outcome) string {
	if outcome.Err != nil {
		return outcome.Err.Error()
	}
	if ctx.Err() != nil {
		return ctx.Err().Error()
	}
	return "unknown runtime error"
}

func panicAsError(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &core.DeliberationError{Op: "runtime.Decide", Kind: "panic", Message: fmt.Sprintf("hybrid core panic: %v", rec)}
}

func (r *Runtime) emit(name string, payload map[string]interface{}) {
	if r.bus != nil {
		r.bus.Emit(name, payload, nil)
	}
}

func (r *Runtime) emitTrace(name string, payload map[string]interface{}) {
	r.emit(name, payload)
}

func (r *Runtime) fireHook(point string, ctx map[string]interface{}) {
	if r.hooks != nil {
		r.hooks.Fire(point, ctx)
	}
}
