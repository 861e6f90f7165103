// Package backend supplies a concrete, opt-in implementation of the opaque
// backend runner spec.md's router package depends on: a real net/http.Client
// talking to a model-serving HTTP endpoint. The deliberation core itself
// never imports this package — it is wired in by the process entrypoint
// (cmd/conclaved) the same way the teacher wires a concrete ai/providers
// client into its orchestration layer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/conclave-ai/conclave/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPRunner implements router.Runner's shape (it is assigned directly as a
// router.Runner via its Run method) against an OpenAI-compatible chat
// completions endpoint, adapted from ai/providers/openai/client.go.
type HTTPRunner struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     core.Logger
	telemetry  core.Telemetry
	breaker    *resilience.CircuitBreaker
}

// chatRequest mirrors the minimal OpenAI-compatible request shape. Run fills
// it from request["prompt"] only; other request keys are not forwarded.
type chatRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
}

type chatResponse struct {
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []struct {
				Logprob float64 `json:"logprob"`
			} `json:"content"`
		} `json:"logprobs,omitempty"`
	} `json:"choices"`
}

// NewHTTPRunner builds a runner against baseURL (e.g. a local httptest.Server
// standing in for a model endpoint, or a real provider's API base). A nil
// logger or telemetry installs no-ops.
func NewHTTPRunner(baseURL, apiKey string, logger core.Logger, tel core.Telemetry) *HTTPRunner {
	return &HTTPRunner{
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:   baseURL,
		apiKey:    apiKey,
		logger:    logger,
		telemetry: tel,
	}
}

// WithCircuitBreaker wraps every subsequent Run call in cb, tripping the
// breaker open after repeated endpoint failures instead of letting the
// router's own retry loop hammer a dead backend. Optional: a runner with no
// breaker behaves exactly as before. A non-nil bus is wired to the breaker's
// state-change notifications (resilience.CircuitBreaker.EmitStateChangesTo)
// so "backend went unhealthy" is visible on the same event bus as the rest
// of the deliberation lifecycle.
func (r *HTTPRunner) WithCircuitBreaker(cb *resilience.CircuitBreaker, bus *events.Bus) *HTTPRunner {
	cb.EmitStateChangesTo(bus)
	r.breaker = cb
	return r
}

// Run satisfies router.Runner's function signature: given a resolved model
// name and the original request, it returns an opaque backend result that
// the router/critic/fusion pipeline treats as a black box (spec.md §1's
// "LLM internals are a Non-goal").
func (r *HTTPRunner) Run(ctx context.Context, modelName string, request core.Request) (interface{}, error) {
	var span core.Span
	if r.telemetry != nil {
		ctx, span = r.telemetry.StartSpan(ctx, "backend.http_runner.run")
		defer span.End()
	}

	prompt, _ := request["prompt"].(string)
	body := chatRequest{
		Model: modelName,
		Messages: []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var result map[string]interface{}
	var err error
	call := func() error {
		result, err = r.do(ctx, "/chat/completions", body)
		return err
	}

	if r.breaker != nil {
		if breakerErr := r.breaker.Execute(ctx, call); breakerErr != nil {
			err = breakerErr
		}
	} else {
		call()
	}

	if err != nil {
		if r.logger != nil {
			r.logger.Error("backend: request failed", map[string]interface{}{"model": modelName, "error": err.Error()})
		}
		return nil, err
	}
	return result, nil
}

func (r *HTTPRunner) do(ctx context.Context, path string, body chatRequest) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: non-200 response (%d): %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}

	result := map[string]interface{}{
		"model": parsed.Model,
		"usage": map[string]int{
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		},
	}
	if len(parsed.Choices) > 0 {
		result["text"] = parsed.Choices[0].Message.Content
		if lp := parsed.Choices[0].Logprobs; lp != nil {
			logprobs := make([]float64, 0, len(lp.Content))
			for _, tok := range lp.Content {
				logprobs = append(logprobs, tok.Logprob)
			}
			result["logprobs"] = logprobs
		}
	}
	return result, nil
}
