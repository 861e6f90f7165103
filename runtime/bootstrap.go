package runtime

import (
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/critic"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/fusion"
	"github.com/conclave-ai/conclave/hooks"
	"github.com/conclave-ai/conclave/router"
	"github.com/conclave-ai/conclave/telemetry"
)

// BootstrapOptions collects everything needed to wire a Runtime from
// scratch, leaves-first, the way runtime_bootstrap.py's bootstrap_runtime
// composes a router + critics + fusion stack into one EleanorRuntime.
type BootstrapOptions struct {
	Logger core.Logger

	// Bus, when non-nil, is used as the deliberation event bus instead of a
	// freshly constructed one — lets a caller (cmd/conclaved) wire the same
	// bus into components built before Bootstrap runs, such as a
	// backend.HTTPRunner's circuit breaker state-change notifications.
	Bus *events.Bus

	RouterConfig router.Config
	Runner       router.Runner

	Critics          map[string]critic.Critic
	CriticThresholds critic.Thresholds
	CriticWeights    map[string]float64

	// UncertaintyThreshold overrides the escalate-on-disagreement cutoff.
	// Zero means "use Mode.UncertaintyThreshold", the mode-profile value
	// hybrid_modes.py defines (strict=0.25, balanced=0.35, permissive=0.50).
	UncertaintyThreshold float64

	Storage fusion.StorageBackend

	// FallbackModels, when non-empty, wraps the router in a
	// router.FallbackChain trying each model in order after the primary's
	// retries are exhausted (spec.md §4.3's fallback-chain open question).
	FallbackModels []string

	Mode core.ModeConfig

	RuntimeConfig Config

	// TelemetryServiceName enables OTel wiring when non-empty; leave empty
	// to run without tracing/metrics, per spec.md's telemetry Non-goal
	// being opt-in rather than mandatory.
	TelemetryServiceName string
	TelemetryEndpoint    string
	TelemetryUseStdout   bool
}

// Bootstrapped is the fully wired stack a caller (cmd/conclaved, tests,
// embedders) needs to drive and inspect the system.
type Bootstrapped struct {
	Runtime   *Runtime
	Bus       *events.Bus
	Hooks     *hooks.Manager
	Telemetry *telemetry.OTelProvider // nil when telemetry is disabled
	Router    *router.Router
	Critics   *critic.Driver
	Fusion    *fusion.ConsensusFusion
}

// Bootstrap wires the full deliberation stack leaves-first: events, then
// hooks, then telemetry, then router, then critics, then fusion, then the
// hybrid core, then the runtime shell — per spec.md §2's dependency order.
func Bootstrap(opts BootstrapOptions) (*Bootstrapped, error) {
	bus := opts.Bus
	if bus == nil {
		bus = events.New(opts.Logger)
	}
	hookMgr := hooks.New(opts.Logger)

	var tel *telemetry.OTelProvider
	var telIface core.Telemetry
	if opts.TelemetryServiceName != "" {
		provider, err := telemetry.NewOTelProvider(opts.TelemetryServiceName, opts.TelemetryEndpoint, opts.TelemetryUseStdout, bus, opts.Logger)
		if err != nil {
			return nil, err
		}
		tel = provider
		telIface = provider
	}

	rtr := router.New(opts.RouterConfig, bus, opts.Logger)

	var hybridRouter Router = rtr
	if len(opts.FallbackModels) > 0 {
		hybridRouter = router.NewFallbackChain(rtr, opts.FallbackModels, bus)
	}

	thresholds := opts.CriticThresholds
	if thresholds == nil {
		thresholds = critic.DefaultThresholds()
	}
	criticDriver := critic.New(opts.Critics, thresholds, bus, hookMgr, opts.Logger)

	criticFusion := fusion.NewCriticFusion(opts.CriticWeights)

	mode := opts.Mode
	if mode.Name == "" {
		mode, _ = core.ModeByName("balanced")
	}

	uncertaintyThreshold := opts.UncertaintyThreshold
	if uncertaintyThreshold == 0 {
		uncertaintyThreshold = mode.UncertaintyThreshold
	}
	uncertainty := fusion.NewUncertaintyEngine(uncertaintyThreshold, telIface)

	var precedent *fusion.PrecedentEngine
	if opts.Storage != nil {
		precedent = fusion.NewPrecedentEngine(opts.Storage, bus, opts.Logger)
	}

	consensus := fusion.NewConsensusFusion(criticFusion, uncertainty, precedent, bus)

	hybrid := NewHybridCore(hybridRouter, opts.Runner, criticDriver, consensus, mode, bus, telIface)

	rt := New(hybrid, opts.RuntimeConfig, bus, hookMgr, opts.Logger)

	return &Bootstrapped{
		Runtime:   rt,
		Bus:       bus,
		Hooks:     hookMgr,
		Telemetry: tel,
		Router:    rtr,
		Critics:   criticDriver,
		Fusion:    consensus,
	}, nil
}
