package router

import "github.com/conclave-ai/conclave/core"

// Resolve returns the model selected by the first rule in rules whose Match
// is satisfied by request, in declared order, or defaultModel if none
// matches.
func Resolve(rules []core.RoutingRule, request core.Request, defaultModel string) string {
	for _, rule := range rules {
		if rule.Matches(request) {
			return rule.UseModel
		}
	}
	return defaultModel
}
