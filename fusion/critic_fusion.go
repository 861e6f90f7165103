// Package fusion reduces the critic fan-out's judgment map into a single
// deliberation outcome: lexicographic + weighted critic fusion, uncertainty
// scoring, optional precedent retrieval, and the mode-gated final decision.
package fusion

import "github.com/conclave-ai/conclave/core"

// RightsCritics names the critics whose Violation flag triggers an
// immediate lexicographic block, per spec.md §4.5.
var RightsCritics = map[string]bool{"rights": true}

// DefaultWeights mirrors spec.md §4.5's default weighted-phase weights.
// Rights carries weight 0 deliberately — it participates only through the
// lexicographic phase, never the weighted aggregate.
var DefaultWeights = map[string]float64{
	"rights":     0.0,
	"risk":       0.25,
	"fairness":   0.25,
	"truth":      0.25,
	"pragmatics": 0.25,
}

// CriticFusion implements the two-phase aggregation of spec.md §4.5.
type CriticFusion struct {
	RightsCritics map[string]bool
	Weights       map[string]float64
}

// NewCriticFusion builds a CriticFusion with the given weights, or
// DefaultWeights if nil.
func NewCriticFusion(weights map[string]float64) *CriticFusion {
	if weights == nil {
		weights = DefaultWeights
	}
	return &CriticFusion{RightsCritics: RightsCritics, Weights: weights}
}

// Fuse runs the lexicographic phase first: if any rights critic reports a
// violation, the aggregate is forced to 0 and every other critic's score is
// ignored for the decision (though retained in Details for audit). Absent a
// lex block, the aggregate is the weighted sum of all critic scores —
// unclipped and unnormalized, per spec.md §9's open-question resolution.
func (f *CriticFusion) Fuse(judgments map[string]core.CriticJudgment) core.FusionOutcome {
	var violations []string
	for name, j := range judgments {
		if f.rightsCritic(name) && j.Violation {
			violations = append(violations, name)
		}
	}

	if len(violations) > 0 {
		return core.FusionOutcome{
			AggregateScore: 0,
			Violations:     violations,
			LexBlock:       true,
			Details:        judgments,
		}
	}

	var total float64
	for name, j := range judgments {
		total += f.weight(name) * j.Score
	}

	return core.FusionOutcome{
		AggregateScore: total,
		Violations:     nil,
		LexBlock:       false,
		Details:        judgments,
	}
}

// NormalizeWeights returns aggregate / sum(weights used), an opt-in helper
// for callers who want the aggregate normalized to [0,1] when weights don't
// sum to 1. Fuse never calls this — spec.md §9 explicitly preserves the
// unnormalized scalarization.
func (f *CriticFusion) NormalizeWeights(judgments map[string]core.CriticJudgment, aggregate float64) float64 {
	var sumWeights float64
	for name := range judgments {
		sumWeights += f.weight(name)
	}
	if sumWeights == 0 {
		return aggregate
	}
	return aggregate / sumWeights
}

func (f *CriticFusion) rightsCritic(name string) bool {
	if f.RightsCritics == nil {
		return RightsCritics[name]
	}
	return f.RightsCritics[name]
}

func (f *CriticFusion) weight(name string) float64 {
	if f.Weights == nil {
		return 0
	}
	return f.Weights[name]
}
