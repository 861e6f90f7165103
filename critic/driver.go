package critic

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/hooks"
)

// Driver runs the configured set of critics concurrently against a request
// and backend result, isolating per-critic failure per spec.md §4.4.
type Driver struct {
	critics    map[string]Critic
	thresholds Thresholds
	bus        *events.Bus
	hooks      *hooks.Manager
	logger     core.Logger
}

// New builds a Driver over the given critic set. A nil bus/hooks/logger
// installs a no-op; nil thresholds installs DefaultThresholds.
func New(critics map[string]Critic, thresholds Thresholds, bus *events.Bus, hookMgr *hooks.Manager, logger core.Logger) *Driver {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Driver{critics: critics, thresholds: thresholds, bus: bus, hooks: hookMgr, logger: logger}
}

// Evaluate fans out to every registered critic concurrently, collecting
// results into a map keyed by critic name (spec.md §3: "the fan-out result
// is a mapping, not a sequence"). A critic that panics or errors yields a
// zero-filled judgment so fusion can proceed with partial information; it
// never prevents its siblings from completing.
func (d *Driver) Evaluate(ctx context.Context, request interface{}, backendResult interface{}) map[string]core.CriticJudgment {
	d.fireHook("before_critic", map[string]interface{}{"request": request})

	results := make(map[string]core.CriticJudgment, len(d.critics))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, c := range d.critics {
		wg.Add(1)
		go func(name string, c Critic) {
			defer wg.Done()
			judgment := d.runOne(ctx, name, c, request, backendResult)
			mu.Lock()
			results[name] = judgment
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	d.fireHook("after_critic", map[string]interface{}{"results": results})
	return results
}

// runOne executes the full per-critic lifecycle of spec.md §4.4, recovering
// from a panic in the critic's own code into a zero-filled judgment.
func (d *Driver) runOne(ctx context.Context, name string, c Critic, request, backendResult interface{}) (judgment core.CriticJudgment) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("critic panicked", map[string]interface{}{
				"critic": name, "panic": fmt.Sprintf("%v", r), "stack": string(debug.Stack()),
			})
			judgment = core.ZeroJudgment(fmt.Sprintf("panic: %v", r))
		}
	}()

	d.emit(fmt.Sprintf("%s.starting", name), map[string]interface{}{"confidence": 0.05})

	accumulated := ""
	runningConfidence := 0.05
	var completionErr error

	if sc, ok := c.(StreamingCritic); ok {
		chunks, err := sc.Stream(ctx, request, backendResult)
		if err != nil {
			d.emitStreamFallback(name, err)
			accumulated, runningConfidence, completionErr = d.completeFallback(ctx, c, name, request, backendResult)
		} else {
			accumulated, runningConfidence = d.consumeStream(name, chunks)
		}
	} else {
		accumulated, runningConfidence, completionErr = d.completeFallback(ctx, c, name, request, backendResult)
	}

	if completionErr != nil {
		judgment = core.ZeroJudgment(completionErr.Error())
		d.emit(fmt.Sprintf("%s.complete", name), map[string]interface{}{"confidence": judgment.Confidence})
		return judgment
	}

	parsed := ParseOutput(accumulated)
	if conflict := CheckConflicts(name, parsed, d.thresholds); conflict != nil {
		d.emit(fmt.Sprintf("%s.conflict", name), map[string]interface{}{
			"severity": conflict.Severity, "message": conflict.Message,
		})
	}

	judgment = core.CriticJudgment{
		Score:      parsed.Confidence,
		Confidence: runningConfidence,
		Violation:  DeriveViolation(name, parsed, d.thresholds),
		Rationale:  parsed.Claim,
		Claim:      parsed.Claim,
		Evidence:   parsed.Evidence,
		Principle:  parsed.Principle,
		Mitigation: parsed.Mitigation,
	}

	d.emit(fmt.Sprintf("%s.complete", name), map[string]interface{}{"confidence": judgment.Confidence})
	return judgment
}

// consumeStream reads chunks to completion, preserving the spec's per-chunk
// confidence re-estimation: log-probabilities when present, the text
// heuristic otherwise. Chunk order for a given critic is preserved by the
// channel; ordering across critics is unspecified.
func (d *Driver) consumeStream(name string, chunks <-chan Chunk) (string, float64) {
	accumulated := ""
	confidence := 0.05
	for chunk := range chunks {
		if chunk.Content == "" {
			continue
		}
		accumulated += chunk.Content
		if len(chunk.Logprobs) > 0 {
			confidence = ConfidenceFromLogprobs(chunk.Logprobs)
		} else {
			confidence = HeuristicConfidenceFromText(accumulated, 0.12)
		}
		d.emit(fmt.Sprintf("%s.partial", name), map[string]interface{}{
			"content": chunk.Content, "confidence": confidence,
		})
	}
	return accumulated, confidence
}

// completeFallback calls the critic's non-streaming Complete entry point,
// used both as the primary path for non-streaming critics and as the
// failure fallback for streaming ones. A non-nil error means the caller
// should build its judgment via core.ZeroJudgment rather than parsing text.
func (d *Driver) completeFallback(ctx context.Context, c Critic, name string, request, backendResult interface{}) (string, float64, error) {
	text, err := c.Complete(ctx, request, backendResult)
	if err != nil {
		d.logger.Warn("critic completion failed", map[string]interface{}{"critic": name, "error": err.Error()})
		return "", 0, err
	}
	return text, HeuristicConfidenceFromText(text, 0.12), nil
}

func (d *Driver) emitStreamFallback(name string, err error) {
	d.emit(fmt.Sprintf("%s.conflict", name), map[string]interface{}{
		"severity": "low",
		"message":  fmt.Sprintf("%s critic stream failed, falling back to completion: %v", name, err),
	})
}

func (d *Driver) emit(name string, payload map[string]interface{}) {
	if d.bus != nil {
		d.bus.Emit(name, payload, nil)
	}
}

func (d *Driver) fireHook(point string, ctx map[string]interface{}) {
	if d.hooks != nil {
		d.hooks.Fire(point, ctx)
	}
}
