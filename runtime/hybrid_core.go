package runtime

import (
	"context"
	"fmt"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/critic"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/fusion"
	"github.com/conclave-ai/conclave/router"
)

// Router is the subset of router.Router the hybrid core depends on,
// narrowed to an interface so tests can substitute a fake.
type Router interface {
	Execute(ctx context.Context, request core.Request, runner router.Runner) (interface{}, error)
}

// HybridCore coordinates router → critic fan-out → fusion → mode gate,
// per spec.md §4.9/§4.10's deliberate pipeline.
type HybridCore struct {
	Router   Router
	Critics  *critic.Driver
	Fusion   *fusion.ConsensusFusion
	Mode     core.ModeConfig
	Runner   router.Runner
	bus      *events.Bus
	telemetry core.Telemetry
}

// NewHybridCore wires the pipeline. runner is the opaque backend runner the
// router drives; it is a Non-goal of the core itself (spec.md §1) but must
// be supplied by the caller at bootstrap.
func NewHybridCore(r Router, runner router.Runner, critics *critic.Driver, fuse *fusion.ConsensusFusion, mode core.ModeConfig, bus *events.Bus, tel core.Telemetry) *HybridCore {
	return &HybridCore{Router: r, Runner: runner, Critics: critics, Fusion: fuse, Mode: mode, bus: bus, telemetry: tel}
}

// Deliberate runs one full pass: route → evaluate critics → fuse → gate.
// It returns a fusion.Outcome — OutcomeDecision, OutcomeEscalate, or
// OutcomeError — rather than raising, per spec.md §9's exception-as-signal
// re-architecture.
func (h *HybridCore) Deliberate(ctx context.Context, request core.Request) fusion.Outcome {
	var span core.Span
	if h.telemetry != nil {
		ctx, span = h.telemetry.StartSpan(ctx, "hybrid.deliberate")
		defer span.End()
	}

	backendResult, err := h.Router.Execute(ctx, request, h.Runner)
	if err != nil {
		h.emitTrace("hybrid.error", map[string]interface{}{"error": err.Error()})
		return fusion.Outcome{Kind: fusion.OutcomeError, Err: fmt.Errorf("hybrid-core-error: %w", err)}
	}

	judgments := h.Critics.Evaluate(ctx, request, backendResult)
	vector := extractVector(backendResult)

	decision := h.Fusion.Decide(ctx, judgments, vector)
	outcome := fusion.Gate(h.Mode, decision)

	if outcome.Kind == fusion.OutcomeEscalate {
		h.emitTrace("hybrid.escalation_forced", map[string]interface{}{"request": map[string]interface{}(request)})
	}

	return outcome
}

func (h *HybridCore) emitTrace(name string, payload map[string]interface{}) {
	if h.bus != nil {
		h.bus.Emit(name, payload, nil)
	}
}

// extractVector pulls an optional embedding vector out of an opaque backend
// result, per spec.md §4.8 ("vector = backend_result.get('embedding')").
// Any shape mismatch yields nil, which callers treat as "no precedent
// lookup" rather than an error.
func extractVector(backendResult interface{}) []float64 {
	m, ok := backendResult.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["embedding"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []float64:
		return v
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}
