package fusion

import (
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/telemetry"
)

// UncertaintyEngine computes spec.md §4.6's global disagreement score from
// a critic judgment map: population variance of scores plus a penalty when
// any critic's confidence is low.
type UncertaintyEngine struct {
	Threshold float64
	Telemetry core.Telemetry
}

// NewUncertaintyEngine builds an engine with the given escalation
// threshold. A nil telemetry provider disables metric emission.
func NewUncertaintyEngine(threshold float64, tel core.Telemetry) *UncertaintyEngine {
	return &UncertaintyEngine{Threshold: threshold, Telemetry: tel}
}

// Compute implements spec.md §4.6 exactly: dispersion is the population
// variance of scores (0 when fewer than two critics), low_conf_penalty is
// 0.3 when any critic's confidence is below 0.3, and uncertainty is
// min(1, 2.5*dispersion + low_conf_penalty).
func (u *UncertaintyEngine) Compute(judgments map[string]core.CriticJudgment) core.UncertaintyOutcome {
	scores := make([]float64, 0, len(judgments))
	confidences := make([]float64, 0, len(judgments))
	for _, j := range judgments {
		scores = append(scores, j.Score)
		confidences = append(confidences, j.Confidence)
	}

	dispersion := 0.0
	if len(scores) > 1 {
		dispersion = populationVariance(scores)
	}

	minConfidence := 0.0
	if len(confidences) > 0 {
		minConfidence = confidences[0]
		for _, c := range confidences[1:] {
			if c < minConfidence {
				minConfidence = c
			}
		}
	}

	lowConfPenalty := 0.0
	if minConfidence < 0.3 {
		lowConfPenalty = 0.3
	}

	uncertainty := 2.5*dispersion + lowConfPenalty
	if uncertainty > 1.0 {
		uncertainty = 1.0
	}

	if u.Telemetry != nil {
		u.Telemetry.RecordMetric(telemetry.MetricUncertaintyScore, uncertainty, nil)
	}

	return core.UncertaintyOutcome{
		Uncertainty:   uncertainty,
		Escalate:      uncertainty >= u.Threshold,
		Dispersion:    dispersion,
		MinConfidence: minConfidence,
	}
}

// populationVariance computes the population variance (divide by N, not
// N-1) of values, matching Python's statistics.pvariance used by the
// source this engine is ported from.
func populationVariance(values []float64) float64 {
	n := float64(len(values))
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / n
}
