package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record broadcast on the event bus. It is never
// stored by the core; listeners that need durability persist it themselves.
type Event struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// NewEvent stamps a fresh id and timestamp onto a named event.
func NewEvent(name string, payload, metadata map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  metadata,
	}
}

// Request is the free-form map supplied by a caller to the runtime. Only
// keys named by configured routing rules are inspected; everything else is
// forwarded to the backend runner unchanged.
type Request map[string]interface{}

// CriticJudgment is the structured verdict produced by one critic.
type CriticJudgment struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Violation  bool    `json:"violation"`
	Rationale  string  `json:"rationale"`

	Claim     string `json:"claim,omitempty"`
	Evidence  string `json:"evidence,omitempty"`
	Principle string `json:"principle,omitempty"`
	Mitigation string `json:"mitigation,omitempty"`
}

// ZeroJudgment is the isolation fallback used when a critic fails
// completely: fusion can still proceed with degraded information.
func ZeroJudgment(reason string) CriticJudgment {
	return CriticJudgment{
		Score:      0,
		Confidence: 0,
		Violation:  false,
		Rationale:  "Critic error: " + reason,
	}
}

// FusionOutcome is the result of critic fusion: a lexicographic veto check
// followed by a weighted aggregate.
type FusionOutcome struct {
	AggregateScore float64                   `json:"aggregate_score"`
	Violations     []string                  `json:"violations"`
	LexBlock       bool                      `json:"lex_block"`
	Details        map[string]CriticJudgment `json:"details"`
}

// UncertaintyOutcome is the result of the uncertainty engine.
type UncertaintyOutcome struct {
	Uncertainty   float64 `json:"uncertainty"`
	Escalate      bool    `json:"escalate"`
	Dispersion    float64 `json:"dispersion"`
	MinConfidence float64 `json:"min_confidence"`
}

// Action is the tagged-union discriminant of a Decision.
type Action string

const (
	ActionProceed               Action = "proceed"
	ActionAllowWithMitigations  Action = "allow_with_mitigations"
	ActionNeedsClarification    Action = "needs_clarification"
	ActionReject                Action = "reject"
	ActionEscalate              Action = "escalate"
	ActionAdvice                Action = "advice"
	ActionError                 Action = "error"
)

// PrecedentRef is a single retrieved precedent, named by spec but left to
// the implementation to shape.
type PrecedentRef struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	Summary   string    `json:"summary"`
	DecidedAt time.Time `json:"decided_at"`
}

// Decision is the public result of a deliberation. Exactly one of the
// optional fields is populated depending on Action.
type Decision struct {
	Action      Action         `json:"action"`
	Confidence  float64        `json:"confidence"`
	Uncertainty float64        `json:"uncertainty"`
	LexBlock    bool           `json:"lex_block"`
	Rationale   string         `json:"rationale"`
	Precedent   []PrecedentRef `json:"precedent"`
	Fusion      FusionOutcome  `json:"fusion"`

	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"id,omitempty"`
}

// ModeConfig is a named hybrid-core policy profile.
type ModeConfig struct {
	Name                 string
	EnforceLex           bool
	AllowOverride        bool
	AutoEscalate         bool
	UncertaintyThreshold float64
	BlockOnViolation     bool
	AdvisoryOnly         bool
}

var modeDefaults = map[string]ModeConfig{
	"strict": {
		Name: "strict", EnforceLex: true, AllowOverride: false, AutoEscalate: true,
		UncertaintyThreshold: 0.25, BlockOnViolation: true, AdvisoryOnly: false,
	},
	"balanced": {
		Name: "balanced", EnforceLex: true, AllowOverride: false, AutoEscalate: true,
		UncertaintyThreshold: 0.35, BlockOnViolation: true, AdvisoryOnly: false,
	},
	"permissive": {
		Name: "permissive", EnforceLex: false, AllowOverride: true, AutoEscalate: false,
		UncertaintyThreshold: 0.50, BlockOnViolation: false, AdvisoryOnly: false,
	},
	"advisory": {
		Name: "advisory", EnforceLex: false, AllowOverride: true, AutoEscalate: false,
		UncertaintyThreshold: 1.0, BlockOnViolation: false, AdvisoryOnly: true,
	},
	"appliance": {
		Name: "appliance", EnforceLex: true, AllowOverride: false, AutoEscalate: true,
		UncertaintyThreshold: 0.30, BlockOnViolation: true, AdvisoryOnly: false,
	},
	"distributed": {
		Name: "distributed", EnforceLex: true, AllowOverride: false, AutoEscalate: true,
		UncertaintyThreshold: 0.30, BlockOnViolation: true, AdvisoryOnly: false,
	},
}

// ModeByName looks up a predefined mode profile by name.
func ModeByName(name string) (ModeConfig, error) {
	m, ok := modeDefaults[name]
	if !ok {
		return ModeConfig{}, &DeliberationError{
			Op: "ModeByName", Kind: "mode", ID: name,
			Message: "unknown mode profile", Err: ErrUnknownMode,
		}
	}
	return m, nil
}

// BackendConfig describes one callable model backend.
type BackendConfig struct {
	Name           string
	Endpoint       string
	APIKey         string
	Model          string
	TimeoutSeconds float64
	MaxRetries     int
	Enabled        bool
}

// RoutingRule maps a conjunction of request-key equalities to a backend
// name. An empty Match never matches.
type RoutingRule struct {
	Match    map[string]string
	UseModel string
}

// Matches reports whether every key in r.Match equals the corresponding
// value in request, coercing request values to strings for comparison. An
// empty Match never matches, per spec.
func (r RoutingRule) Matches(request Request) bool {
	if len(r.Match) == 0 {
		return false
	}
	for key, want := range r.Match {
		got, ok := request[key]
		if !ok {
			return false
		}
		if toString(got) != want {
			return false
		}
	}
	return true
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
