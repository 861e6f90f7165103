package telemetry

import "github.com/conclave-ai/conclave/core"

// NewLogger returns the component-tagged logger used by the telemetry
// package itself, delegating to core's structured logger rather than
// keeping a second logging implementation.
func NewLogger(base core.Logger, component string) core.Logger {
	if base == nil {
		base = &core.NoOpLogger{}
	}
	if aware, ok := base.(core.ComponentAwareLogger); ok {
		return aware.WithComponent(component)
	}
	return base
}
