package critic

import "strings"

// protectedClasses are the UDHR/UNESCO-aligned terms the rights critic's
// claim is screened against, per spec.md §4.5 / original_source utils.py.
var protectedClasses = []string{
	"race", "ethnicity", "gender", "sex", "sexual orientation", "religion", "faith",
	"disability", "age", "nationality", "origin", "immigration", "pregnancy", "veteran",
}

// Thresholds are the per-critic confidence gates used both to derive
// Violation for the lexicographic rights critic and to gate conflict event
// severities for every critic. Defaults per spec.md §4.5.
type Thresholds map[string]float64

// DefaultThresholds mirrors spec.md §4.5's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"rights":     0.50,
		"risk":       0.60,
		"fairness":   0.60,
		"truth":      0.70,
		"pragmatics": 0.40,
	}
}

func (t Thresholds) get(critic string) float64 {
	if v, ok := t[critic]; ok {
		return v
	}
	return 0.5
}

// Conflict is a low/medium/high-severity observation emitted by the
// streaming driver for operator visibility. It never feeds fusion — fusion
// consumes only the CriticJudgment.
type Conflict struct {
	Critic   string
	Severity string
	Message  string
}

// DeriveViolation reports whether the rights critic's parsed output should
// set CriticJudgment.Violation: a non-"none" constitutional principle above
// the rights threshold, per spec.md §4.5 and original_source engine.py's
// compute_final_decision rights branch.
func DeriveViolation(criticName string, parsed ParsedOutput, thresholds Thresholds) bool {
	if criticName != "rights" {
		return false
	}
	principle := strings.ToLower(strings.TrimSpace(parsed.Principle))
	return principle != "" && principle != "none" && parsed.Confidence > thresholds.get("rights")
}

// CheckConflicts runs the per-critic conflict heuristics over a parsed
// output, returning the first applicable conflict (if any), per spec.md
// §4.5's ordered rule list (ported from original_source engine.py's
// _conflict_checks).
func CheckConflicts(criticName string, parsed ParsedOutput, thresholds Thresholds) *Conflict {
	principle := strings.ToLower(strings.TrimSpace(parsed.Principle))
	if principle == "" {
		principle = "none"
	}
	claim := strings.ToLower(parsed.Claim)
	evidence := strings.ToLower(parsed.Evidence)
	confidence := parsed.Confidence

	switch criticName {
	case "rights":
		if principle != "none" && confidence > thresholds.get("rights") {
			return &Conflict{Critic: "rights", Severity: "high", Message: "Potential rights violation detected (UDHR)."}
		}
		for _, term := range protectedClasses {
			if strings.Contains(claim, term) {
				return &Conflict{Critic: "rights", Severity: "high", Message: "Protected class detected; check non-discrimination (UDHR/UNESCO)."}
			}
		}
		if !strings.Contains(claim, "consent") && !strings.Contains(evidence, "consent") {
			return &Conflict{Critic: "rights", Severity: "medium", Message: "Consent not evident; verify autonomy (UDHR Art. 1,12)."}
		}
	case "risk":
		if (principle != "none" || strings.Contains(claim, "harm")) && confidence > thresholds.get("risk") {
			return &Conflict{Critic: "risk", Severity: "medium", Message: "Potential high-risk action detected."}
		}
	case "fairness":
		if principle != "none" && confidence > thresholds.get("fairness") {
			return &Conflict{Critic: "fairness", Severity: "medium", Message: "Potential distributional harm detected."}
		}
	case "truth":
		if principle != "none" && confidence > thresholds.get("truth") {
			return &Conflict{Critic: "truth", Severity: "low", Message: "Potential misinformation detected."}
		}
	case "pragmatics":
		if confidence < thresholds.get("pragmatics") {
			return &Conflict{Critic: "pragmatics", Severity: "low", Message: "Feasibility uncertain; clarify constraints."}
		}
	}
	return nil
}
