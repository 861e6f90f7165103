package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/critic"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/fusion"
	"github.com/conclave-ai/conclave/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	result interface{}
	err    error
}

func (f *fakeRouter) Execute(ctx context.Context, request core.Request, runner router.Runner) (interface{}, error) {
	return f.result, f.err
}

type staticCritic struct {
	name string
	text string
}

func (c *staticCritic) Name() string { return c.name }
func (c *staticCritic) Complete(ctx context.Context, request, backendResult interface{}) (string, error) {
	return c.text, nil
}

func agreeableOutput() string {
	return "- Claim: looks fine\n- Evidence: nothing alarming\n- Constitutional Principle: autonomy\n- Confidence: 0.90\n- Mitigation: none\n"
}

func buildHybridCore(t *testing.T, rtr Router) *HybridCore {
	t.Helper()
	critics := map[string]critic.Critic{
		"rights": &staticCritic{name: "rights", text: agreeableOutput()},
		"risk":   &staticCritic{name: "risk", text: agreeableOutput()},
	}
	driver := critic.New(critics, critic.DefaultThresholds(), nil, nil, nil)
	fuse := fusion.NewConsensusFusion(fusion.NewCriticFusion(nil), fusion.NewUncertaintyEngine(0.35, nil), nil, nil)
	mode, err := core.ModeByName("balanced")
	require.NoError(t, err)
	return NewHybridCore(rtr, nil, driver, fuse, mode, events.New(nil), nil)
}

func TestHybridCoreDeliberateReturnsDecisionOnSuccess(t *testing.T) {
	h := buildHybridCore(t, &fakeRouter{result: map[string]interface{}{"text": "ok"}})
	outcome := h.Deliberate(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, fusion.OutcomeDecision, outcome.Kind)
	assert.Equal(t, core.ActionProceed, outcome.Decision.Action)
}

func TestHybridCoreDeliberateReturnsErrorWhenRouterFails(t *testing.T) {
	h := buildHybridCore(t, &fakeRouter{err: errors.New("no backend available")})
	outcome := h.Deliberate(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, fusion.OutcomeError, outcome.Kind)
	assert.Error(t, outcome.Err)
}

func TestHybridCoreDeliberateEmitsEscalationEvent(t *testing.T) {
	critics := map[string]critic.Critic{
		"rights":     &staticCritic{name: "rights", text: agreeableOutput()},
		"risk":       &staticCritic{name: "risk", text: "- Claim: danger\n- Evidence: unclear\n- Constitutional Principle: harm\n- Confidence: 0.10\n- Mitigation: review\n"},
		"fairness":   &staticCritic{name: "fairness", text: agreeableOutput()},
		"truth":      &staticCritic{name: "truth", text: "- Claim: unverified\n- Evidence: none\n- Constitutional Principle: truth\n- Confidence: 0.10\n- Mitigation: check\n"},
		"pragmatics": &staticCritic{name: "pragmatics", text: agreeableOutput()},
	}
	driver := critic.New(critics, critic.DefaultThresholds(), nil, nil, nil)
	fuse := fusion.NewConsensusFusion(fusion.NewCriticFusion(nil), fusion.NewUncertaintyEngine(0.35, nil), nil, nil)
	mode, err := core.ModeByName("balanced")
	require.NoError(t, err)

	bus := events.New(nil)
	var gotForced bool
	bus.Subscribe("hybrid.escalation_forced", func(core.Event) { gotForced = true })

	h := NewHybridCore(&fakeRouter{result: map[string]interface{}{}}, nil, driver, fuse, mode, bus, nil)
	outcome := h.Deliberate(context.Background(), core.Request{"prompt": "hi"})
	assert.Equal(t, fusion.OutcomeEscalate, outcome.Kind)
	assert.True(t, gotForced)
}

func TestExtractVectorHandlesShapes(t *testing.T) {
	assert.Nil(t, extractVector("not-a-map"))
	assert.Nil(t, extractVector(map[string]interface{}{"other": 1}))
	assert.Equal(t, []float64{0.1, 0.2}, extractVector(map[string]interface{}{"embedding": []float64{0.1, 0.2}}))
	assert.Equal(t, []float64{0.1, 0.2}, extractVector(map[string]interface{}{"embedding": []interface{}{0.1, 0.2}}))
}
