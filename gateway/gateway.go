package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CompletionRequest captures the normalized model input produced by the
// orchestrator. Timeout is advisory: providers should bound the underlying
// call with it but the engine does not enforce a hard deadline beyond it.
type CompletionRequest struct {
	Prompt       string        `json:"prompt"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Model        string        `json:"model,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// TokenUsage captures token usage statistics for a completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the normalized model output.
type CompletionResult struct {
	Content string      `json:"content"`
	Model   string      `json:"model"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// Gateway is the minimal port the orchestrator needs to drive generation.
// Implementations must wrap retryable failures (timeouts, rate limits,
// 5xx-equivalents) in *core.TransientError so the engine's retry loop can
// classify them.
type Gateway interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// MockGateway is a lightweight in-memory Gateway useful for tests & examples.
// Canned responses are matched by prompt; unmatched prompts echo the prompt.
// Failures can be scripted per call to exercise the retry path.
type MockGateway struct {
	mu        sync.Mutex
	model     string
	responses map[string]string
	script    []error
	calls     int
	requests  []CompletionRequest
}

// NewMockGateway constructs a MockGateway reporting the given model id.
func NewMockGateway(model string) *MockGateway {
	return &MockGateway{
		model:     model,
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockGateway) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith scripts errors returned by upcoming calls, in order. A nil entry
// means the call succeeds. Once the script is exhausted calls succeed again.
func (m *MockGateway) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, errs...)
}

// Calls returns how many generation calls were made.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request seen, in call order.
func (m *MockGateway) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GenerateCompletion implements Gateway.
func (m *MockGateway) GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	var scripted error
	if len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	content, ok := m.responses[req.Prompt]
	m.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}
	if !ok {
		content = fmt.Sprintf("mock completion for: %s", req.Prompt)
	}

	return &CompletionResult{
		Content: content,
		Model:   m.model,
		Usage: &TokenUsage{
			PromptTokens:     len(req.Prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(req.Prompt) + len(content)) / 4,
		},
	}, nil
}

var _ Gateway = (*MockGateway)(nil)
