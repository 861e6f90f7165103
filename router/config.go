package router

import "github.com/conclave-ai/conclave/core"

// FromFileConfig builds a router.Config from the on-disk RouterFileConfig
// loaded by core.LoadFromFile/core.LoadFromEnv.
func FromFileConfig(fc core.RouterFileConfig) Config {
	backends := make(map[string]core.BackendConfig, len(fc.Backends))
	for _, b := range fc.Backends {
		backends[b.Name] = core.BackendConfig{
			Name:     b.Name,
			Endpoint: b.BaseURL,
			APIKey:   b.APIKey,
			Model:    b.Model,
			Enabled:  !b.Disabled,
		}
	}

	rules := make([]core.RoutingRule, len(fc.Rules))
	for i, r := range fc.Rules {
		rules[i] = core.RoutingRule{Match: r.If, UseModel: r.UseModel}
	}

	return Config{
		DefaultModel: fc.DefaultModel,
		Backends:     backends,
		Rules:        rules,
		MaxRetries:   fc.MaxRetries,
		Timeout:      fc.Timeout,
	}
}
