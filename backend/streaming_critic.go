package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/critic"
)

// StreamingCritic adapts an HTTPRunner into a critic.StreamingCritic: it
// drives the same chat-completions endpoint with stream=true and turns the
// SSE response into critic.Chunk values, the way ai/providers/openai's
// StreamResponse turns SSE lines into callback invocations.
type StreamingCritic struct {
	name      string
	model     string
	runner    *HTTPRunner
	systemMsg string
}

// NewStreamingCritic builds a StreamingCritic named name, evaluating with
// model via runner's endpoint. systemMsg seeds the critic's persona/prompt
// (e.g. "You are the rights critic...").
func NewStreamingCritic(name, model string, runner *HTTPRunner, systemMsg string) *StreamingCritic {
	return &StreamingCritic{name: name, model: model, runner: runner, systemMsg: systemMsg}
}

func (c *StreamingCritic) Name() string { return c.name }

// Complete drives Stream to completion and concatenates the chunks, for
// callers or driver fallback paths that only need the final text.
func (c *StreamingCritic) Complete(ctx context.Context, request, backendResult interface{}) (string, error) {
	chunks, err := c.Stream(ctx, request, backendResult)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}

type streamChatRequest struct {
	Model    string              `json:"model"`
	Stream   bool                `json:"stream"`
	Messages []map[string]string `json:"messages"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Logprobs *struct {
			Content []struct {
				Logprob float64 `json:"logprob"`
			} `json:"content"`
		} `json:"logprobs,omitempty"`
	} `json:"choices"`
}

// Stream issues a streaming chat-completions request and returns a channel
// of critic.Chunk, closed when the SSE stream ends or the context is
// cancelled. Malformed chunks are skipped rather than failing the stream,
// mirroring the teacher's "log but continue" handling of bad SSE frames.
func (c *StreamingCritic) Stream(ctx context.Context, request, backendResult interface{}) (<-chan critic.Chunk, error) {
	req, ok := request.(core.Request)
	if !ok {
		req = core.Request{}
	}
	prompt, _ := req["prompt"].(string)

	messages := []map[string]string{}
	if c.systemMsg != "" {
		messages = append(messages, map[string]string{"role": "system", "content": c.systemMsg})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	body, err := json.Marshal(streamChatRequest{Model: c.model, Stream: true, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runner.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.runner.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.runner.apiKey)
	}

	resp, err := c.runner.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: send stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("backend: stream request returned status %d", resp.StatusCode)
	}

	out := make(chan critic.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if line == "data: [DONE]" {
				return
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var parsed streamChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &parsed); err != nil {
				continue
			}
			if len(parsed.Choices) == 0 {
				continue
			}

			chunk := critic.Chunk{Content: parsed.Choices[0].Delta.Content}
			if lp := parsed.Choices[0].Logprobs; lp != nil {
				logprobs := make([]float64, 0, len(lp.Content))
				for _, tok := range lp.Content {
					logprobs = append(logprobs, tok.Logprob)
				}
				chunk.Logprobs = logprobs
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
