package fusion

import (
	"context"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
)

// ConsensusFusion composes critic fusion, precedent retrieval, and
// uncertainty scoring into the single decision spec.md §4.8 names.
type ConsensusFusion struct {
	CriticFusion *CriticFusion
	Uncertainty  *UncertaintyEngine
	Precedent    *PrecedentEngine
	bus          *events.Bus
}

// NewConsensusFusion wires the three fusion stages together. Precedent may
// be nil — fetching is then skipped entirely.
func NewConsensusFusion(critics *CriticFusion, uncertainty *UncertaintyEngine, precedent *PrecedentEngine, bus *events.Bus) *ConsensusFusion {
	return &ConsensusFusion{CriticFusion: critics, Uncertainty: uncertainty, Precedent: precedent, bus: bus}
}

// Decide implements spec.md §4.8's four steps: critic fusion, early-reject
// on lex block, best-effort precedent fetch, then uncertainty-gated
// proceed/escalate.
func (c *ConsensusFusion) Decide(ctx context.Context, judgments map[string]core.CriticJudgment, vector []float64) core.Decision {
	criticOut := c.CriticFusion.Fuse(judgments)

	if criticOut.LexBlock {
		return core.Decision{
			Action:      core.ActionReject,
			Confidence:  1.0,
			Uncertainty: 0.0,
			LexBlock:    true,
			Rationale:   "Rights-critical violation detected.",
			Precedent:   nil,
			Fusion:      criticOut,
		}
	}

	var precedents []core.PrecedentRef
	if c.Precedent != nil && vector != nil {
		precedents = c.Precedent.FetchRelevant(ctx, vector, 5)
	}

	unc := c.Uncertainty.Compute(judgments)

	action := core.ActionProceed
	if unc.Escalate {
		action = core.ActionEscalate
		if c.bus != nil {
			c.bus.Emit("fusion.escalate", map[string]interface{}{"score": unc.Uncertainty}, nil)
		}
	}

	return core.Decision{
		Action:      action,
		Confidence:  criticOut.AggregateScore,
		Uncertainty: unc.Uncertainty,
		LexBlock:    false,
		Rationale:   "Decision derived from multi-critic fusion.",
		Precedent:   precedents,
		Fusion:      criticOut,
	}
}
