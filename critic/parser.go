package critic

import (
	"regexp"
	"strconv"
	"strings"
)

// labelPattern matches a single "- Label: value" output line. Matching is
// case-insensitive and tolerant of extra whitespace around the colon.
func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)-\s*` + regexp.QuoteMeta(label) + `\s*:\s*(.*)`)
}

var confidenceDigits = regexp.MustCompile(`[\d.]+`)

// ParsedOutput is the raw structured-text fields extracted from a critic's
// accumulated response, before Driver folds them into a core.CriticJudgment
// (which also needs Score/Violation, derived per critic by conflicts.go).
type ParsedOutput struct {
	Claim      string
	Evidence   string
	Principle  string
	Confidence float64
	Mitigation string
}

// ParseOutput parses a critic's accumulated structured-text output.
// Parsing never fails — missing labels default to empty string or zero
// (the principle defaults to "None"), per spec.md §4.4.
func ParseOutput(text string) ParsedOutput {
	claim := extract(text, "Claim", "")
	evidence := extract(text, "Evidence", "")
	principle := extract(text, "Constitutional Principle", "")
	if principle == "" {
		principle = extract(text, "Principle", "")
	}
	if principle == "" {
		principle = "None"
	}
	mitigation := extract(text, "Mitigation", "")

	confidenceRaw := extract(text, "Confidence", "0.0")
	confidence := 0.0
	if m := confidenceDigits.FindString(confidenceRaw); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			confidence = f
		}
	}

	return ParsedOutput{
		Claim:      claim,
		Evidence:   evidence,
		Principle:  principle,
		Confidence: confidence,
		Mitigation: mitigation,
	}
}

func extract(text, label, fallback string) string {
	m := labelPattern(label).FindStringSubmatch(text)
	if len(m) < 2 {
		return fallback
	}
	value := strings.TrimSpace(m[1])
	if value == "" {
		return fallback
	}
	// Only the first line of the value; a subsequent "- Label:" starts a
	// new field.
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}
