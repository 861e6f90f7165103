// Package critic implements the concurrent, per-critic streaming evaluation
// driver: one goroutine per configured critic, isolated failure handling,
// token-level confidence estimation, and the structured-output parser that
// turns accumulated critic text into a core.CriticJudgment.
package critic

import "context"

// Chunk is one unit of streamed critic output. Logprobs is nil when the
// backend runner does not report them, in which case the driver falls back
// to the text heuristic in confidence.go.
type Chunk struct {
	Content  string
	Logprobs []float64
}

// Critic is the capability every configured evaluator must implement: a
// single non-streaming evaluation entry point taking the original request
// and the router's backend result.
type Critic interface {
	Name() string
	Complete(ctx context.Context, request interface{}, backendResult interface{}) (string, error)
}

// StreamingCritic is the optional capability a Critic may also implement.
// When present, the driver consumes Stream first and only falls back to
// Complete on stream failure, per spec.md §4.4 step 4.
type StreamingCritic interface {
	Critic
	Stream(ctx context.Context, request interface{}, backendResult interface{}) (<-chan Chunk, error)
}
