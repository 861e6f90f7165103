package critic

import (
	"math"
	"testing"
)

func TestConfidenceFromLogprobsEmpty(t *testing.T) {
	if got := ConfidenceFromLogprobs(nil); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestConfidenceFromLogprobsClipsToUpperBound(t *testing.T) {
	got := ConfidenceFromLogprobs([]float64{0, 0, 0}) // exp(0) = 1.0, clipped to 0.99
	if got != 0.99 {
		t.Errorf("got %v, want 0.99", got)
	}
}

func TestConfidenceFromLogprobsMatchesFormula(t *testing.T) {
	logprobs := []float64{-0.1, -0.2, -0.3}
	mean := (-0.1 - 0.2 - 0.3) / 3
	want := math.Exp(mean)
	got := ConfidenceFromLogprobs(logprobs)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHeuristicConfidencePenalizesUncertaintyTerms(t *testing.T) {
	plain := HeuristicConfidenceFromText("this is a clear and direct statement", 0.1)
	hedged := HeuristicConfidenceFromText("this is uncertain and possibly unclear", 0.1)
	if hedged >= plain {
		t.Errorf("hedged confidence %v should be lower than plain %v", hedged, plain)
	}
}

func TestHeuristicConfidencePenalizesLowConfidenceMarkers(t *testing.T) {
	text := "I am not confident about this, it's speculative"
	got := HeuristicConfidenceFromText(text, 0.2)
	if got >= 0.2 {
		t.Errorf("expected penalty to reduce below base 0.2, got %v", got)
	}
}

func TestHeuristicConfidenceClippedToRange(t *testing.T) {
	longText := ""
	for i := 0; i < 2000; i++ {
		longText += "a"
	}
	got := HeuristicConfidenceFromText(longText, 0.9)
	if got > 0.9 {
		t.Errorf("expected clip to 0.9, got %v", got)
	}
	negative := HeuristicConfidenceFromText("uncertain unclear ambiguous not confident low confidence guess speculative estimate", 0.0)
	if negative < 0 {
		t.Errorf("expected clip to 0, got %v", negative)
	}
}
