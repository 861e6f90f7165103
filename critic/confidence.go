package critic

import (
	"math"
	"strings"
)

// uncertaintyTerms and lowConfidenceMarkers mirror the constants a critic's
// own prose reaches for when it is hedging — used only by the text
// heuristic, never the parsed Confidence field itself.
var uncertaintyTerms = []string{
	"uncertain", "not sure", "unknown", "unclear", "ambiguous",
	"may", "might", "could", "possibly", "perhaps",
}

var lowConfidenceMarkers = []string{
	"not confident", "low confidence", "guess", "speculative", "estimate",
}

// ConfidenceFromLogprobs converts a chunk's log-probabilities into a rough
// confidence score: exp(mean(logprobs)), clipped to [0, 0.99]. An empty
// slice yields 0.
func ConfidenceFromLogprobs(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += lp
	}
	mean := sum / float64(len(logprobs))
	return clip(math.Exp(mean), 0, 0.99)
}

// HeuristicConfidenceFromText estimates confidence from accumulated text
// when no log-probabilities are available: a length bonus offset by
// hedging-language penalties, clipped to [0, 0.9].
func HeuristicConfidenceFromText(text string, base float64) float64 {
	lowered := strings.ToLower(text)

	lengthBonus := math.Min(float64(len(text))/500.0*0.1, 0.15)

	var penalty float64
	for _, term := range uncertaintyTerms {
		if strings.Contains(lowered, term) {
			penalty += 0.05
		}
	}
	for _, term := range lowConfidenceMarkers {
		if strings.Contains(lowered, term) {
			penalty += 0.07
		}
	}

	return clip(base+lengthBonus-penalty, 0, 0.9)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
