package fusion

import "github.com/conclave-ai/conclave/core"

// OutcomeKind discriminates the three ways a deliberation can conclude,
// replacing the source's exception-as-signal escalation control flow per
// spec.md §9: a normal decision, an escalation requiring human review, or a
// programming error that must bubble up to the runtime.
type OutcomeKind int

const (
	OutcomeDecision OutcomeKind = iota
	OutcomeEscalate
	OutcomeError
)

// Outcome is the explicit result variant threaded from ModeGate through the
// hybrid core to the runtime shell.
type Outcome struct {
	Kind     OutcomeKind
	Decision core.Decision
	Reason   string
	Err      error
}

// Gate applies spec.md §4.9's mode policy to a ConsensusFusion decision.
func Gate(mode core.ModeConfig, decision core.Decision) Outcome {
	if decision.LexBlock && mode.EnforceLex {
		return Outcome{
			Kind: OutcomeDecision,
			Decision: core.Decision{
				Action:      core.ActionReject,
				Reason:      "rights_violation",
				Confidence:  decision.Confidence,
				Uncertainty: decision.Uncertainty,
				LexBlock:    true,
				Rationale:   decision.Rationale,
				Precedent:   decision.Precedent,
				Fusion:      decision.Fusion,
			},
		}
	}

	if mode.AdvisoryOnly {
		return Outcome{
			Kind: OutcomeDecision,
			Decision: core.Decision{
				Action:      core.ActionAdvice,
				Confidence:  decision.Confidence,
				Uncertainty: decision.Uncertainty,
				LexBlock:    decision.LexBlock,
				Rationale:   decision.Rationale,
				Precedent:   decision.Precedent,
				Fusion:      decision.Fusion,
			},
		}
	}

	if decision.Action == core.ActionEscalate && mode.AutoEscalate {
		return Outcome{Kind: OutcomeEscalate, Reason: "Uncertainty threshold exceeded."}
	}

	return Outcome{Kind: OutcomeDecision, Decision: decision}
}
